package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"memorial-credits/internal/wallet"
)

func TestStatement_Aggregates(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	clock := now
	l := wallet.NewMemoryLedger().WithClock(func() time.Time { return clock })
	wsvc := wallet.NewService(l, nil)
	ana := wallet.Owner{Type: wallet.OwnerIndividual, ID: "ana"}
	fam := wallet.Owner{Type: wallet.OwnerPooledGroup, ID: "fam"}

	// Before the range.
	if _, err := wsvc.Credit(ctx, wallet.CreditRequest{Owner: ana, Amount: 5, ActorID: "gateway", IdempotencyKey: "pay_0"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	clock = now.Add(2 * time.Hour)
	if _, err := wsvc.Credit(ctx, wallet.CreditRequest{Owner: ana, Amount: 13, ActorID: "gateway", IdempotencyKey: "pay_1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := wsvc.Transfer(ctx, wallet.TransferRequest{From: ana, To: fam, Amount: 4, ActorID: "ana"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := wallet.NewCoordinator(l, nil).SpendOneCredit(ctx, wallet.Principal{Kind: wallet.PrincipalIndividual, ID: "ana"}, "ana", wallet.SpendOptions{}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	svc := NewService(wsvc)
	out, err := svc.Statement(ctx, StatementRequest{Owner: ana, Range: TimeRange{From: now.Add(time.Hour), To: now.Add(3 * time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Credited != 13 || out.TransferredOut != 4 || out.Debited != 1 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.OpeningBalance != 5 || out.ClosingBalance != 13 || out.Balance != 13 {
		t.Fatalf("unexpected balances: opening=%d closing=%d balance=%d", out.OpeningBalance, out.ClosingBalance, out.Balance)
	}
	if len(out.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out.Entries))
	}

	famOut, err := svc.Statement(ctx, StatementRequest{Owner: fam})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if famOut.TransferredIn != 4 || famOut.ClosingBalance != 4 || famOut.OpeningBalance != 0 {
		t.Fatalf("unexpected family statement: %+v", famOut)
	}
}

func TestStatement_InvalidRequests(t *testing.T) {
	svc := NewService(wallet.NewService(wallet.NewMemoryLedger(), nil))
	now := time.Now()

	if _, err := svc.Statement(context.Background(), StatementRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	_, err := svc.Statement(context.Background(), StatementRequest{
		Owner: wallet.Owner{Type: wallet.OwnerIndividual, ID: "x"},
		Range: TimeRange{From: now, To: now.Add(-time.Hour)},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	_, err = svc.Statement(context.Background(), StatementRequest{Owner: wallet.Owner{Type: wallet.OwnerIndividual, ID: "x"}})
	if !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
