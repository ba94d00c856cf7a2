package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

func TestCheck_success(t *testing.T) {
	checker := New(queue.NewMemoryBroker(), Config{}, zap.NewNop())
	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if !checker.Healthy() {
		t.Error("expected healthy")
	}
}

func TestCheck_degradesAfterThreshold(t *testing.T) {
	broker := queue.NewMemoryBroker()
	down := errors.New("connection refused")
	broker.FailDials(down, down, down)

	var results []bool
	checker := New(broker, Config{FailThreshold: 3}, zap.NewNop())
	checker.SetMetricsRecord(func(ok bool) { results = append(results, ok) })

	for i := 0; i < 2; i++ {
		checker.Check(context.Background()) //nolint:errcheck
		if !checker.Healthy() {
			t.Fatalf("degraded after %d failures, want 3", i+1)
		}
	}
	checker.Check(context.Background()) //nolint:errcheck
	if checker.Healthy() {
		t.Fatal("expected degraded after 3 consecutive failures")
	}

	st := checker.Snapshot()
	if st.FailCount != 3 || st.LastError != "connection refused" {
		t.Errorf("unexpected snapshot %+v", st)
	}

	// Recovery on the next successful probe.
	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if !checker.Healthy() {
		t.Error("expected healthy after recovery")
	}
	if len(results) != 4 || results[3] != true {
		t.Errorf("unexpected metrics %v", results)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	checker := New(queue.NewMemoryBroker(), Config{CheckInterval: 10 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if checker.Snapshot().LastCheck.IsZero() {
		t.Error("expected at least one probe")
	}
}
