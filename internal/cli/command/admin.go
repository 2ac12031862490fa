package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/shardkv/internal/cli/output"
	"github.com/yndnr/shardkv/internal/server/httpserver/handler"
	"github.com/yndnr/shardkv/internal/storage"
)

const (
	adminTimeout = 30 * time.Second
	// Snapshots and recovery stream the whole dataset.
	longAdminTimeout = 30 * time.Minute
)

// AdminCommand returns the commands that drive a running server.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "manage a running server through its admin endpoint",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "check liveness and readiness",
				Action: adminHealth,
			},
			{
				Name:    "stats",
				Aliases: []string{"status"},
				Usage:   "show engine statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "shards", Usage: "include per-shard rows"},
				},
				Action: adminStats,
			},
			{
				Name:   "snapshots",
				Usage:  "list the server's managed snapshots",
				Action: adminSnapshots,
			},
			{
				Name:  "snapshot",
				Usage: "take a snapshot now",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "write to this server-side file instead of the snapshot directory"},
				},
				Action: adminSnapshot,
			},
			{
				Name:   "resume",
				Usage:  "leave read-only mode after a persistence failure",
				Action: adminResume,
			},
			{
				Name:  "recover",
				Usage: "reload the store from a snapshot and the WAL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "server-side snapshot file (default: newest managed snapshot)"},
				},
				Action: adminRecover,
			},
			{
				Name:  "flush",
				Usage: "remove every key (needs storage.allow_flush_commands on the server)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "confirm the flush"},
				},
				Action: adminFlush,
			},
			{
				Name:      "log-level",
				Usage:     "change the server log level",
				ArgsUsage: "<debug|info|warn|error>",
				Action:    adminLogLevel,
			},
		},
	}
}

func adminHealth(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	var health handler.HealthResponse
	if err := client.Get(ctx, "/healthz", &health); err != nil {
		return err
	}
	ready := "ready"
	if health.Degraded {
		ready = "read-only"
	}
	return render(c, health, func() *output.Table {
		return output.KeyValues(map[string]any{
			"status":    health.Status,
			"readiness": ready,
			"version":   health.Version.String(),
		})
	})
}

func adminStats(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	var st storage.Stats
	if err := client.Get(ctx, "/admin/stats", &st); err != nil {
		return err
	}
	if !c.Bool("shards") {
		st.Store.Shards = nil
	}
	return render(c, st, func() *output.Table {
		return statsTable(st, c.Bool("shards"))
	})
}

func statsTable(st storage.Stats, shards bool) *output.Table {
	fields := map[string]any{
		"degraded":           st.Degraded,
		"keys":               st.Store.Keys,
		"expiring_keys":      st.Store.ExpiringKeys,
		"gets":               st.Store.Gets,
		"hits":               st.Store.Hits,
		"misses":             st.Store.Misses,
		"sets":               st.Store.Sets,
		"deletes":            st.Store.Deletes,
		"expired":            st.Store.Expired,
		"ops_since_snapshot": st.OpsSinceSnapshot,
		"ttl_sample_size":    st.SampleSize,
		"ttl_hot_threshold":  st.HotThreshold,
		"hit_rate":           st.Store.HitRate(),
	}
	if st.WAL != nil {
		fields["wal.appended"] = st.WAL.Appended
		fields["wal.batches"] = st.WAL.Batches
		fields["wal.pending"] = st.WAL.Pending
		fields["wal.active_segment"] = st.WAL.ActiveSegment
		fields["wal.failed"] = st.WAL.Failed
	}
	if st.LastSnapshot != nil {
		fields["last_snapshot"] = st.LastSnapshot.ID
	}
	t := output.KeyValues(fields)
	if shards {
		for _, s := range st.Store.Shards {
			t.AddRow(fmt.Sprintf("shard[%d].keys", s.Index), s.Keys)
		}
	}
	return t
}

func adminSnapshots(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	var resp handler.SnapshotListResponse
	if err := client.Get(ctx, "/admin/snapshots", &resp); err != nil {
		return err
	}
	return render(c, resp.Snapshots, func() *output.Table {
		t := output.NewTable("ID", "CREATED", "SIZE", "PATH")
		for _, info := range resp.Snapshots {
			t.AddRow(info.ID, createdAt(info.CreatedAt), output.Bytes(info.Size), info.Path)
		}
		return t
	})
}

func adminSnapshot(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, longAdminTimeout)
	defer cancel()

	var resp handler.SnapshotResponse
	if err := client.Post(ctx, "/admin/snapshot", handler.SnapshotRequest{Path: c.String("path")}, &resp); err != nil {
		return err
	}
	return render(c, resp, func() *output.Table {
		fields := map[string]any{"elapsed": time.Duration(resp.ElapsedMS) * time.Millisecond}
		if info := resp.Snapshot; info != nil {
			fields["id"] = info.ID
			fields["path"] = info.Path
			fields["size"] = output.Bytes(info.Size)
			fields["entries"] = info.Entries
			fields["wal_segment"] = info.WALSegment
		}
		return output.KeyValues(fields)
	})
}

func adminResume(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, longAdminTimeout)
	defer cancel()

	var resp handler.ResumeResponse
	if err := client.Post(ctx, "/admin/resume", nil, &resp); err != nil {
		return err
	}
	return render(c, resp, func() *output.Table {
		fields := map[string]any{"resumed": resp.Resumed}
		if resp.Snapshot != nil {
			fields["snapshot"] = resp.Snapshot.Path
		}
		return output.KeyValues(fields)
	})
}

func adminRecover(c *cli.Context) error {
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, longAdminTimeout)
	defer cancel()

	var resp handler.RecoverResponse
	if err := client.Post(ctx, "/admin/recover", handler.RecoverRequest{Path: c.String("path")}, &resp); err != nil {
		return err
	}
	return render(c, resp, func() *output.Table {
		fields := map[string]any{}
		if rs := resp.Recovery; rs != nil {
			fields["replayed"] = rs.Replayed
			fields["skipped"] = rs.Skipped
			fields["gaps"] = rs.Gaps
			fields["elapsed"] = rs.Elapsed
			fields["truncated"] = rs.Truncation != nil
			if rs.Snapshot != nil {
				fields["snapshot"] = rs.Snapshot.Path
			}
		}
		return output.KeyValues(fields)
	})
}

func adminFlush(c *cli.Context) error {
	if !c.Bool("yes") {
		return cli.Exit("admin flush: pass --yes to remove every key", 2)
	}
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	var resp handler.FlushResponse
	if err := client.Post(ctx, "/admin/flush", nil, &resp); err != nil {
		return err
	}
	return render(c, resp, func() *output.Table {
		return output.KeyValues(map[string]any{"removed": resp.Removed})
	})
}

func adminLogLevel(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("admin log-level: exactly one level is required", 2)
	}
	client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, adminTimeout)
	defer cancel()

	var resp struct {
		Level string `json:"level" yaml:"level"`
	}
	if err := client.Put(ctx, "/admin/log-level", map[string]string{"level": c.Args().First()}, &resp); err != nil {
		return err
	}
	return render(c, resp, func() *output.Table {
		return output.KeyValues(map[string]any{"level": resp.Level})
	})
}
