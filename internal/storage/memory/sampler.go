package memory

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Sampler defaults.
const (
	DefaultSampleSize     = 20
	DefaultHotThreshold   = 0.25
	DefaultMaxRounds      = 16
	DefaultSampleInterval = 100 * time.Millisecond
)

// SamplerConfig tunes the TTL sampler.
type SamplerConfig struct {
	// SampleSize is the number of expiring keys drawn per round.
	SampleSize int
	// HotThreshold is the expired fraction above which another round runs.
	HotThreshold float64
	// MaxRounds bounds the rounds per shard per pass.
	MaxRounds int
	// Interval is the delay between passes over all shards.
	Interval time.Duration
}

func (c *SamplerConfig) applyDefaults() {
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.HotThreshold <= 0 || c.HotThreshold >= 1 {
		c.HotThreshold = DefaultHotThreshold
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Interval <= 0 {
		c.Interval = DefaultSampleInterval
	}
}

// PassResult summarizes sampler work.
type PassResult struct {
	Rounds  int
	Sampled int
	Evicted int
}

func (r *PassResult) add(o PassResult) {
	r.Rounds += o.Rounds
	r.Sampled += o.Sampled
	r.Evicted += o.Evicted
}

// Sampler evicts expired entries by random sampling, never scanning a
// shard. A pass over one shard costs at most SampleSize*MaxRounds key
// checks regardless of shard size, and the shard lock is taken per key.
type Sampler struct {
	store      *Store
	sampleSize atomic.Int64
	threshold  atomic.Uint64 // math.Float64bits
	maxRounds  int
	interval   time.Duration
	logger     *slog.Logger
}

// NewSampler creates a sampler for store.
func NewSampler(store *Store, cfg SamplerConfig, logger *slog.Logger) *Sampler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sampler{
		store:     store,
		maxRounds: cfg.MaxRounds,
		interval:  cfg.Interval,
		logger:    logger,
	}
	s.Tune(cfg.SampleSize, cfg.HotThreshold)
	return s
}

// Tune changes the sample size and hot threshold. It is safe to call while
// the sampler runs; invalid values are ignored.
func (s *Sampler) Tune(sampleSize int, hotThreshold float64) {
	if sampleSize > 0 {
		s.sampleSize.Store(int64(sampleSize))
	}
	if hotThreshold > 0 && hotThreshold < 1 {
		s.threshold.Store(math.Float64bits(hotThreshold))
	}
}

// Tuning returns the current sample size and hot threshold.
func (s *Sampler) Tuning() (int, float64) {
	return int(s.sampleSize.Load()), math.Float64frombits(s.threshold.Load())
}

// Pass samples shard i until a round finds the shard cold, the expiring
// subset runs empty, or MaxRounds is reached.
func (s *Sampler) Pass(i int) PassResult {
	sh := s.store.shards.At(i)
	size, threshold := s.Tuning()

	var res PassResult
	for res.Rounds < s.maxRounds {
		sampled, evicted := 0, 0
		now := s.store.now().UnixNano()

		for range size {
			sh.mu.Lock()
			key, ok := sh.expiring.random()
			if !ok {
				sh.mu.Unlock()
				break
			}
			sampled++
			k := []byte(key)
			v, found := sh.lookup(k)
			switch {
			case !found:
				sh.expiring.remove(key)
			case v.Expired(now):
				sh.remove(k)
				evicted++
			}
			sh.mu.Unlock()
		}

		res.Rounds++
		res.Sampled += sampled
		res.Evicted += evicted

		if sampled == 0 || float64(evicted)/float64(sampled) <= threshold {
			break
		}
	}

	if res.Evicted > 0 {
		s.store.evicted.Add(uint64(res.Evicted))
	}
	return res
}

// Cycle runs one pass over every shard.
func (s *Sampler) Cycle() PassResult {
	var total PassResult
	for i := range s.store.shardCount {
		total.add(s.Pass(i))
	}
	return total
}

// Run cycles every Interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("ttl sampler started",
		"interval", s.interval,
		"max_rounds", s.maxRounds,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("ttl sampler stopped")
			return nil
		case <-ticker.C:
			res := s.Cycle()
			if res.Evicted > 0 {
				s.logger.Debug("ttl sampler cycle",
					"sampled", res.Sampled,
					"evicted", res.Evicted,
					"rounds", res.Rounds,
				)
			}
		}
	}
}
