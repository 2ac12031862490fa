package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestHooksRunInReverseOrder(t *testing.T) {
	h := NewHandler(time.Second, quiet())

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"storage", "metrics", "admin"} {
		h.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	h.Trigger("test")
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	want := []string{"admin", "metrics", "storage"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("Done() not closed after Wait")
	}
}

func TestHookErrorsAreJoined(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := false
	h.OnShutdown("a", func(context.Context) error { return errA })
	h.OnShutdown("ok", func(context.Context) error { ran = true; return nil })
	h.OnShutdown("b", func(context.Context) error { return errB })

	err := h.Run("test")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Run() = %v, want both hook errors", err)
	}
	if !ran {
		t.Fatal("a failing hook stopped later hooks")
	}
}

func TestHooksShareDeadline(t *testing.T) {
	h := NewHandler(50*time.Millisecond, quiet())
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := h.Run("test")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("hook deadline not applied")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	calls := 0
	h.OnShutdown("count", func(context.Context) error { calls++; return nil })

	_ = h.Run("first")
	_ = h.Run("second")
	if calls != 1 {
		t.Fatalf("hook ran %d times, want 1", calls)
	}
}

func TestWaitOnContext(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestWaitOnSignal(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	called := make(chan struct{})
	h.OnShutdown("signal", func(context.Context) error {
		close(called)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- h.Wait(context.Background()) }()

	// Give Wait time to install its handler.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after SIGTERM")
	}
	<-called
}
