package audit

import (
	"context"
	"encoding/json"
	"testing"
)

func TestService_AppendRequiresTypeAndSubject(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventAdminGrant}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{Subject: "individual:1"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing recorded")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminGrant(context.Background(), "u1", "admin", "individual:42", 7, 5, "goodwill"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
	if evs[0].Type != EventAdminGrant || evs[0].WalletID != 7 {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(evs[0].Metadata), &md); err != nil {
		t.Fatalf("metadata not json: %v", err)
	}
	if md["amount"] != float64(5) {
		t.Fatalf("expected amount in metadata, got %v", md)
	}
}

func TestService_PaymentAndReconcileEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.LogPayment(ctx, EventPaymentOrphaned, "a@example.com", "pay_1", "no owner")
	_ = svc.LogPayment(ctx, EventPaymentIgnored, "a@example.com", "pay_2", "status pending")
	_ = svc.LogReconciled(ctx, "a@example.com", 3, 2, []string{"pay_1"})

	if got := len(repo.OfType(EventPaymentOrphaned)); got != 1 {
		t.Fatalf("expected 1 orphaned event, got %d", got)
	}
	rec := repo.OfType(EventOrphanReconciled)
	if len(rec) != 1 || rec[0].ActorID != "reconciler" {
		t.Fatalf("unexpected reconcile events: %+v", rec)
	}
}

func TestService_NilIsNoop(t *testing.T) {
	var svc *Service
	if err := svc.LogAdminGrant(context.Background(), "u", "admin", "x", 1, 1, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
