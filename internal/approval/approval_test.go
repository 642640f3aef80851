package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stylingadventures/closetd/internal/apperr"
)

type signalCall struct {
	kind   string // "success" or "failure"
	token  string
	output string
	cause  string
}

type fakeSignaler struct {
	mu    sync.Mutex
	calls []signalCall
	err   error
}

func (f *fakeSignaler) TaskSuccess(ctx context.Context, taskToken, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, signalCall{kind: "success", token: taskToken, output: output})
	return nil
}

func (f *fakeSignaler) TaskFailure(ctx context.Context, taskToken, errorCode, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, signalCall{kind: "failure", token: taskToken, cause: cause})
	return nil
}

func (f *fakeSignaler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pendingCoordinator(t *testing.T, itemID, token string) (*Coordinator, *fakeSignaler) {
	t.Helper()
	sig := &fakeSignaler{}
	c := NewCoordinator(NewMemoryStore(), sig, nil)
	err := c.SaveToken(context.Background(), Record{
		ItemID:    itemID,
		TaskToken: token,
		Type:      "closet.upload",
		Detail:    `{"key":"users/abc/fit.png"}`,
	})
	if err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	return c, sig
}

func TestResolveApprove(t *testing.T) {
	t.Parallel()

	c, sig := pendingCoordinator(t, "item-1", "token-1")

	rec, err := c.Resolve(context.Background(), "item-1", DecisionApprove, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Status != StatusApprove {
		t.Errorf("Status = %q, want APPROVE", rec.Status)
	}
	if rec.DecidedAt == nil {
		t.Error("DecidedAt not set")
	}

	if len(sig.calls) != 1 {
		t.Fatalf("signal calls = %d, want 1", len(sig.calls))
	}
	call := sig.calls[0]
	if call.kind != "success" || call.token != "token-1" {
		t.Errorf("unexpected signal %+v", call)
	}
	if !gjson.Get(call.output, "approved").Bool() {
		t.Errorf("output = %q, want approved:true", call.output)
	}
}

func TestResolveRejectDefaultsReason(t *testing.T) {
	t.Parallel()

	c, sig := pendingCoordinator(t, "item-1", "token-1")

	rec, err := c.Resolve(context.Background(), "item-1", DecisionReject, "  ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Reason != "Rejected by admin" {
		t.Errorf("Reason = %q, want default", rec.Reason)
	}
	if len(sig.calls) != 1 || sig.calls[0].kind != "failure" {
		t.Fatalf("signals = %+v, want one failure", sig.calls)
	}
	if sig.calls[0].cause != "Rejected by admin" {
		t.Errorf("cause = %q, want default reason", sig.calls[0].cause)
	}

	got, err := c.Get(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusReject || got.TaskToken != "" {
		t.Errorf("record after reject = %+v, want REJECT with token cleared", got)
	}
}

func TestResolveTwiceSecondGetsNotFound(t *testing.T) {
	t.Parallel()

	c, sig := pendingCoordinator(t, "item-1", "token-1")
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "item-1", DecisionApprove, ""); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	if _, err := c.Resolve(ctx, "item-1", DecisionReject, "changed my mind"); !apperr.IsNotFound(err) {
		t.Fatalf("second Resolve() error = %v, want NotFoundError", err)
	}
	if sig.callCount() != 1 {
		t.Errorf("signal calls = %d, want exactly 1", sig.callCount())
	}
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	c, sig := pendingCoordinator(t, "item-1", "token-1")
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan Decision, racers)
	for i := 0; i < racers; i++ {
		decision := DecisionApprove
		if i%2 == 1 {
			decision = DecisionReject
		}
		wg.Add(1)
		go func(d Decision) {
			defer wg.Done()
			if _, err := c.Resolve(ctx, "item-1", d, ""); err == nil {
				wins <- d
			}
		}(decision)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if sig.callCount() != 1 {
		t.Errorf("signal calls = %d, want exactly 1", sig.callCount())
	}
}

func TestSaveTokenOverwrites(t *testing.T) {
	t.Parallel()

	c, sig := pendingCoordinator(t, "item-1", "token-old")
	ctx := context.Background()

	if err := c.SaveToken(ctx, Record{ItemID: "item-1", TaskToken: "token-new"}); err != nil {
		t.Fatalf("SaveToken() overwrite error = %v", err)
	}

	if _, err := c.Resolve(ctx, "item-1", DecisionApprove, ""); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sig.calls[0].token != "token-new" {
		t.Errorf("signalled token = %q, want the latest", sig.calls[0].token)
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()

	c, _ := pendingCoordinator(t, "item-1", "token-1")
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "", DecisionApprove, ""); !apperr.IsValidation(err) {
		t.Errorf("missing item id error = %v, want ValidationError", err)
	}
	if _, err := c.Resolve(ctx, "item-1", Decision("MAYBE"), ""); !apperr.IsValidation(err) {
		t.Errorf("bad decision error = %v, want ValidationError", err)
	}
	if _, err := c.Resolve(ctx, "item-unknown", DecisionApprove, ""); !apperr.IsNotFound(err) {
		t.Errorf("unknown item error = %v, want NotFoundError", err)
	}
}

func TestResolveSignalerFailureSurfaces(t *testing.T) {
	t.Parallel()

	sig := &fakeSignaler{err: context.DeadlineExceeded}
	c := NewCoordinator(NewMemoryStore(), sig, nil)
	ctx := context.Background()

	if err := c.SaveToken(ctx, Record{ItemID: "item-1", TaskToken: "token-1", RequestedAt: time.Now()}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	_, err := c.Resolve(ctx, "item-1", DecisionApprove, "")
	if err == nil {
		t.Fatal("Resolve() error = nil, want surfaced signaler failure")
	}
	if apperr.IsNotFound(err) || apperr.IsValidation(err) {
		t.Errorf("Resolve() error = %v, want UpstreamError", err)
	}
}

func TestResolveRetriesAfterTransientSignalFailure(t *testing.T) {
	t.Parallel()

	sig := &fakeSignaler{err: context.DeadlineExceeded}
	c := NewCoordinator(NewMemoryStore(), sig, nil)
	ctx := context.Background()

	if err := c.SaveToken(ctx, Record{ItemID: "item-1", TaskToken: "token-1", RequestedAt: time.Now()}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	if _, err := c.Resolve(ctx, "item-1", DecisionApprove, ""); err == nil {
		t.Fatal("Resolve() error = nil, want signaler failure")
	}

	// The token must survive the failed signal so the decision can be
	// retried once the workflow engine is reachable again.
	sig.err = nil
	rec, err := c.Resolve(ctx, "item-1", DecisionApprove, "")
	if err != nil {
		t.Fatalf("retried Resolve() error = %v", err)
	}
	if rec.Status != StatusApprove {
		t.Errorf("Status = %q, want %q", rec.Status, StatusApprove)
	}
	if sig.callCount() != 1 {
		t.Fatalf("signals = %d, want exactly one delivered on retry", sig.callCount())
	}
	if call := sig.calls[0]; call.kind != "success" || call.token != "token-1" {
		t.Fatalf("signal = %+v, want success for token-1", call)
	}

	if _, err = c.Resolve(ctx, "item-1", DecisionApprove, ""); !apperr.IsNotFound(err) {
		t.Errorf("third Resolve() error = %v, want NotFoundError", err)
	}
}
