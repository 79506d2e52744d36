package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/model"
)

func newTestGovernor(t *testing.T) (*Governor, *approval.Store) {
	t.Helper()
	store, err := approval.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(DefaultConfig(), store), store
}

func TestGateAllowsReadOnly(t *testing.T) {
	g, _ := newTestGovernor(t)
	r := g.GateAction("read", map[string]any{"path": "/etc/hosts"})
	if r.Decision != model.Allow {
		t.Errorf("expected allow, got %s", r.Decision)
	}
	if r.Classification != nil {
		t.Error("read-only action must not be classified")
	}
}

func TestGateAllowsMediumRisk(t *testing.T) {
	g, _ := newTestGovernor(t)
	r := g.GateAction("write", map[string]any{"path": "/tmp/out.go"})
	if r.Decision != model.Allow {
		t.Errorf("medium risk is below the default threshold, got %s", r.Decision)
	}
	if r.Classification == nil {
		t.Fatal("write should be classified")
	}
}

func TestGateRequiresApprovalForHighRisk(t *testing.T) {
	g, store := newTestGovernor(t)
	r := g.GateAction("shell", map[string]any{"command": "make deploy"})
	if r.Decision != model.RequireApproval {
		t.Fatalf("expected require_approval, got %s", r.Decision)
	}
	if r.ApprovalKey == "" {
		t.Fatal("expected an approval key")
	}

	status, err := store.Check(r.ApprovalKey)
	if err != nil {
		t.Fatalf("request not submitted to store: %v", err)
	}
	if status != approval.StatusPending {
		t.Errorf("expected pending, got %s", status)
	}
}

func TestGateDeniesCatastrophic(t *testing.T) {
	g, _ := newTestGovernor(t)
	r := g.GateAction("shell", map[string]any{"command": "rm -rf /"})
	if r.Decision != model.Deny {
		t.Errorf("expected deny for catastrophic command, got %s", r.Decision)
	}
	if r.Classification == nil || r.Classification.RiskLevel != model.RiskHigh {
		t.Errorf("classification risk stays high even when denied, got %+v", r.Classification)
	}
}

func TestGateCatastrophicRoutesToApprovalWhenDenyDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DenyCatastrophic = false
	store, _ := approval.NewStore(t.TempDir())
	g := New(cfg, store)

	r := g.GateAction("shell", map[string]any{"command": "rm -rf /"})
	if r.Decision != model.RequireApproval {
		t.Errorf("expected require_approval, got %s", r.Decision)
	}
}

func TestApprovalKeyStableAcrossRetries(t *testing.T) {
	g, _ := newTestGovernor(t)
	a := g.GateAction("shell", map[string]any{"command": "make deploy"})
	b := g.GateAction("shell", map[string]any{"command": "make deploy"})
	if a.ApprovalKey != b.ApprovalKey {
		t.Errorf("retried action must map to the same key: %s vs %s", a.ApprovalKey, b.ApprovalKey)
	}
}

func TestAwaitApprovalApproved(t *testing.T) {
	g, store := newTestGovernor(t)
	r := g.GateAction("shell", map[string]any{"command": "make deploy"})

	go func() {
		time.Sleep(50 * time.Millisecond)
		store.Approve(r.ApprovalKey, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := g.AwaitApproval(ctx, r.ApprovalKey)
	if err != nil {
		t.Fatalf("AwaitApproval: %v", err)
	}
	if !ok {
		t.Error("expected approval")
	}

	// One-time approvals are consumed.
	status, _ := store.Check(r.ApprovalKey)
	if status != approval.StatusConsumed {
		t.Errorf("expected consumed, got %s", status)
	}
}

func TestAwaitApprovalDenied(t *testing.T) {
	g, store := newTestGovernor(t)
	r := g.GateAction("shell", map[string]any{"command": "make deploy"})
	store.Deny(r.ApprovalKey)

	ok, err := g.AwaitApproval(context.Background(), r.ApprovalKey)
	if err != nil {
		t.Fatalf("AwaitApproval: %v", err)
	}
	if ok {
		t.Error("denied request must not approve")
	}
}

func TestVerdictCleanHistory(t *testing.T) {
	g, _ := newTestGovernor(t)
	now := time.Now().UTC()
	ops := []model.Operation{
		{Timestamp: now.Add(-3 * time.Second), Tool: "a"},
		{Timestamp: now.Add(-2 * time.Second), Tool: "b"},
		{Timestamp: now.Add(-1 * time.Second), Tool: "c"},
	}

	r, err := g.Verdict(ops, now)
	if err != nil {
		t.Fatalf("unexpected halt: %v", err)
	}
	if r.Detected {
		t.Error("clean history must not detect")
	}
}

func TestVerdictHaltsOnLoop(t *testing.T) {
	g, _ := newTestGovernor(t)
	now := time.Now().UTC()
	var ops []model.Operation
	for i := 0; i < 4; i++ {
		ops = append(ops, model.Operation{
			Timestamp: now.Add(time.Duration(i-5) * time.Second),
			Tool:      "npm test",
			Input:     map[string]any{"command": "npm test"},
		})
	}

	r, err := g.Verdict(ops, now)
	if err == nil {
		t.Fatal("expected SafetyHalt")
	}
	var halt *SafetyHalt
	if !errors.As(err, &halt) {
		t.Fatalf("expected *SafetyHalt, got %T", err)
	}
	if !r.Detected || halt.Verdict.LoopType != model.LoopExactRepeat {
		t.Errorf("unexpected verdict: %+v", halt.Verdict)
	}
	if halt.Reason == "" {
		t.Error("halt must carry a verbatim reason")
	}
}
