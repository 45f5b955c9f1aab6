package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"memorial-credits/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func fund(t *testing.T, l *MemoryLedger, o Owner, n int64) Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := l.GetOrCreate(ctx, o)
	require.NoError(t, err)
	if n > 0 {
		w, err = l.Adjust(ctx, w.ID, n)
		require.NoError(t, err)
	}
	return w
}

func TestResolver_SpendOrder(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	g := fund(t, l, family, 0)
	p := fund(t, l, alice, 0)
	o := fund(t, l, acme, 0)
	r := NewResolver(l)

	got, err := r.ResolveSpendOrder(ctx, Principal{Kind: PrincipalIndividual, ID: "alice", GroupID: "fam-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, g.ID, got[0].ID, "group wallet first")
	assert.Equal(t, p.ID, got[1].ID)

	got, err = r.ResolveSpendOrder(ctx, Principal{Kind: PrincipalIndividual, ID: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)

	got, err = r.ResolveSpendOrder(ctx, Principal{Kind: PrincipalOrganization, ID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o.ID, got[0].ID)

	// Missing wallets are skipped and nothing is created.
	got, err = r.ResolveSpendOrder(ctx, Principal{Kind: PrincipalIndividual, ID: "bob", GroupID: "fam-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, g.ID, got[0].ID)
	assert.Len(t, l.Wallets(), 3)

	_, err = r.ResolveSpendOrder(ctx, Principal{Kind: "robot", ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSpend_GroupThenPersonalExhaustion(t *testing.T) {
	const G, P = 3, 2
	ctx := context.Background()
	l := NewMemoryLedger()
	g := fund(t, l, family, G)
	p := fund(t, l, alice, P)
	pub := &recordingPublisher{}
	c := NewCoordinator(l, pub)
	principal := Principal{Kind: PrincipalIndividual, ID: "alice", GroupID: "fam-1"}

	for i := 0; i < G+P; i++ {
		rec, err := c.SpendOneCredit(ctx, principal, "user-alice", SpendOptions{})
		require.NoError(t, err, "spend %d", i)
		if i < G {
			assert.Equal(t, g.ID, rec.WalletCharged.ID, "spend %d must hit the group wallet", i)
		} else {
			assert.Equal(t, p.ID, rec.WalletCharged.ID, "spend %d must hit the personal wallet", i)
		}
		assert.Equal(t, EntryDebit, rec.Entry.Kind)
		assert.Equal(t, int64(1), rec.Entry.Amount)
		assert.Equal(t, rec.WalletCharged.Balance, rec.Entry.BalanceAfter)
	}

	_, err := c.SpendOneCredit(ctx, principal, "user-alice", SpendOptions{})
	assert.ErrorIs(t, err, ErrNoCreditsAvailable)

	for _, w := range l.Wallets() {
		assert.Zero(t, w.Balance)
	}
	assert.Len(t, l.Entries(), G+P)
	assert.Equal(t, G+P, pub.count())
}

func TestSpend_ConcurrentSpendsNeverOverspend(t *testing.T) {
	const B, K = 7, 30
	ctx := context.Background()
	l := NewMemoryLedger()
	w := fund(t, l, acme, B)
	c := NewCoordinator(l, nil)
	principal := Principal{Kind: PrincipalOrganization, ID: "acme"}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		noCredits int
		other     []error
	)
	for i := 0; i < K; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SpendOneCredit(ctx, principal, "user", SpendOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNoCreditsAvailable):
				noCredits++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, B, successes)
	assert.Equal(t, K-B, noCredits)
	cur, _ := l.GetByID(ctx, w.ID)
	assert.Zero(t, cur.Balance)
	assert.Len(t, l.Entries(), B)
}

// racingLedger drains a wallet between resolution and debit, simulating a
// concurrent spend that won the race for the last credit.
type racingLedger struct {
	*MemoryLedger
	drainOnce sync.Once
	victim    int64
}

func (r *racingLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.drainOnce.Do(func() {
		w, _ := r.MemoryLedger.GetByID(ctx, r.victim)
		if w.Balance > 0 {
			_, _ = r.MemoryLedger.Adjust(ctx, r.victim, -w.Balance)
		}
	})
	return r.MemoryLedger.WithinTx(ctx, fn)
}

func TestSpend_LostRaceMovesToNextCandidate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	g := fund(t, mem, family, 1)
	p := fund(t, mem, alice, 1)
	c := NewCoordinator(&racingLedger{MemoryLedger: mem, victim: g.ID}, nil)

	rec, err := c.SpendOneCredit(ctx, Principal{Kind: PrincipalIndividual, ID: "alice", GroupID: "fam-1"}, "u", SpendOptions{})
	require.NoError(t, err)
	assert.Equal(t, p.ID, rec.WalletCharged.ID)
	assert.Zero(t, rec.WalletCharged.Balance)
}

func TestSpend_IdempotencyKeyReplaysCharge(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	w := fund(t, l, alice, 2)
	pub := &recordingPublisher{}
	c := NewCoordinator(l, pub)
	principal := Principal{Kind: PrincipalIndividual, ID: "alice"}

	first, err := c.SpendOneCredit(ctx, principal, "u", SpendOptions{IdempotencyKey: "create-page-1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := c.SpendOneCredit(ctx, principal, "u", SpendOptions{IdempotencyKey: "create-page-1"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)

	cur, _ := l.GetByID(ctx, w.ID)
	assert.Equal(t, int64(1), cur.Balance)
	assert.Equal(t, 1, pub.count())
}

func TestSpend_NoWalletsMeansNoCredits(t *testing.T) {
	c := NewCoordinator(NewMemoryLedger(), nil)
	_, err := c.SpendOneCredit(context.Background(), Principal{Kind: PrincipalIndividual, ID: "new"}, "u", SpendOptions{})
	assert.ErrorIs(t, err, ErrNoCreditsAvailable)

	_, err = c.SpendOneCredit(context.Background(), Principal{Kind: PrincipalIndividual, ID: "new"}, "", SpendOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSpend_PublishFailureDoesNotFailSpend(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	fund(t, l, acme, 1)
	c := NewCoordinator(l, &recordingPublisher{err: errors.New("broker down")})

	_, err := c.SpendOneCredit(ctx, Principal{Kind: PrincipalOrganization, ID: "acme"}, "u", SpendOptions{})
	require.NoError(t, err)
}

func TestSpend_KeysAreScopedToPrincipal(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a := fund(t, l, alice, 1)
	bob := Owner{Type: OwnerIndividual, ID: "bob"}
	b := fund(t, l, bob, 1)
	c := NewCoordinator(l, nil)

	first, err := c.SpendOneCredit(ctx, Principal{Kind: PrincipalIndividual, ID: "alice"}, "u-alice", SpendOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	second, err := c.SpendOneCredit(ctx, Principal{Kind: PrincipalIndividual, ID: "bob"}, "u-bob", SpendOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, second.Replayed)
	assert.NotEqual(t, first.Entry.ID, second.Entry.ID)

	cur, _ := l.GetByID(ctx, a.ID)
	assert.Zero(t, cur.Balance)
	cur, _ = l.GetByID(ctx, b.ID)
	assert.Zero(t, cur.Balance)

	// A principal with no wallets cannot borrow someone else's charge.
	_, err = c.SpendOneCredit(ctx, Principal{Kind: PrincipalIndividual, ID: "broke"}, "u-alice", SpendOptions{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrNoCreditsAvailable)
}

func TestSpend_ReplayRequiresSameActorAndWallet(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	w := fund(t, l, acme, 5)
	c := NewCoordinator(l, nil)
	org := Principal{Kind: PrincipalOrganization, ID: acme.ID}

	_, err := c.SpendOneCredit(ctx, org, "u1", SpendOptions{IdempotencyKey: "req-1"})
	require.NoError(t, err)

	// Another member of the same organization reusing the key is not a retry.
	_, err = c.SpendOneCredit(ctx, org, "u2", SpendOptions{IdempotencyKey: "req-1"})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// A debit under the principal's key that sits in a foreign wallet is not replayed.
	other := fund(t, l, alice, 1)
	_, err = l.Append(ctx, LedgerEntry{Kind: EntryDebit, WalletID: other.ID, Amount: 1, IdempotencyKey: spendKey(org, "req-2"), ActorID: "u1"})
	require.NoError(t, err)
	_, err = c.SpendOneCredit(ctx, org, "u1", SpendOptions{IdempotencyKey: "req-2"})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	cur, _ := l.GetByID(ctx, w.ID)
	assert.Equal(t, int64(4), cur.Balance)
}

func TestKeys_SourcesDoNotCollide(t *testing.T) {
	p := Principal{Kind: PrincipalIndividual, ID: "a:b"}
	q := Principal{Kind: PrincipalIndividual, ID: "a"}
	keys := []string{
		PaymentKey("x"),
		grantKey("x"),
		transferOutKey("x"),
		transferInKey("x"),
		transferOutKey("x:in"),
		spendKey(p, "c"),
		spendKey(q, "b:c"),
	}
	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
	assert.Empty(t, spendKey(p, ""))
	assert.Empty(t, transferInKey(""))
}
