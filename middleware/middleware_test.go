package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/middleware"
	"github.com/xraph/docket/scope"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestJob(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("renderer error")

	err := middleware.Chain(pass)(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("nil layout")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "renderer panic: nil layout" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestTimeout_CancelsSlowRender(t *testing.T) {
	mw := middleware.Timeout(20*time.Millisecond, slog.Default())

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q should mention the timeout", err)
	}
}

func TestTimeout_LateSuccessIsFailure(t *testing.T) {
	mw := middleware.Timeout(10*time.Millisecond, slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("render that ignored its deadline should fail, got %v", err)
	}
}

func TestTimeout_DoesNotWaitForRendererIgnoringContext(t *testing.T) {
	mw := middleware.Timeout(20*time.Millisecond, slog.Default())
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Timeout returned after %s, want close to the deadline", elapsed)
	}
}

func TestTimeout_ParentCancellationAbandonsRender(t *testing.T) {
	mw := middleware.Timeout(time.Minute, slog.Default())
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := mw(ctx, newTestJob(), func(_ context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestTimeout_RecoversPanicInRender(t *testing.T) {
	mw := middleware.Timeout(time.Second, slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("layout exploded")
	})
	if err == nil || !strings.Contains(err.Error(), "layout exploded") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestTimeout_FastRenderUnaffected(t *testing.T) {
	mw := middleware.Timeout(time.Second, slog.Default())

	var deadline time.Time
	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deadline.IsZero() {
		t.Error("expected a deadline on the render context")
	}
}

func TestLogging_PassesResult(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	want := errors.New("fail")

	if err := mw(context.Background(), newTestJob(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mw(context.Background(), newTestJob(), func(_ context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestScope_AttachesTenant(t *testing.T) {
	j := newTestJob()
	j.RequestedBy = "user_5"

	err := middleware.Scope()(context.Background(), j, func(ctx context.Context) error {
		tenant, ok := scope.From(ctx)
		if !ok {
			t.Fatal("expected tenant in context")
		}
		if tenant.TenantID != j.TenantID || tenant.RequestedBy != "user_5" {
			t.Errorf("tenant = %+v", tenant)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:        id.NewJobID(),
		TenantID:  "org_456",
		SubjectID: "claim_123",
		Kind:      "SUPPLEMENT",
		Status:    job.StatusProcessing,
		Attempts:  2,
	}
}
