package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests and local runs.
//
// WithinTx holds the lock for the whole closure and restores a snapshot when the
// closure fails, so it gives the same all-or-nothing behavior as a SQL transaction.
type MemoryLedger struct {
	mu    sync.Mutex
	clock func() time.Time
	st    memState
}

type memState struct {
	nextWalletID int64
	nextEntryID  int64
	wallets      map[int64]Wallet
	byOwner      map[Owner]int64
	entries      []LedgerEntry
	byKey        map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		clock: time.Now,
		st: memState{
			wallets: map[int64]Wallet{},
			byOwner: map[Owner]int64{},
			byKey:   map[string]int{},
		},
	}
}

// WithClock overrides the time source.
func (m *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	m.clock = clock
	return m
}

func (s *memState) clone() memState {
	out := memState{
		nextWalletID: s.nextWalletID,
		nextEntryID:  s.nextEntryID,
		wallets:      make(map[int64]Wallet, len(s.wallets)),
		byOwner:      make(map[Owner]int64, len(s.byOwner)),
		entries:      append([]LedgerEntry(nil), s.entries...),
		byKey:        make(map[string]int, len(s.byKey)),
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.byOwner {
		out.byOwner[k] = v
	}
	for k, v := range s.byKey {
		out.byKey[k] = v
	}
	return out
}

func (m *MemoryLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(ctx, &memTx{st: &m.st, now: m.clock().UTC()}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *MemoryLedger) tx() *memTx { return &memTx{st: &m.st, now: m.clock().UTC()} }

func (m *MemoryLedger) GetOrCreate(ctx context.Context, owner Owner) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetOrCreate(ctx, owner)
}

func (m *MemoryLedger) Get(ctx context.Context, owner Owner) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Get(ctx, owner)
}

func (m *MemoryLedger) GetByID(ctx context.Context, walletID int64) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetByID(ctx, walletID)
}

func (m *MemoryLedger) Adjust(ctx context.Context, walletID int64, delta int64) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Adjust(ctx, walletID, delta)
}

func (m *MemoryLedger) Append(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().Append(ctx, e)
}

func (m *MemoryLedger) FindByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().FindByIdempotencyKey(ctx, key)
}

func (m *MemoryLedger) ListByWallet(ctx context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListByWallet(ctx, walletID, from, to)
}

// Entries returns a copy of every entry in append order.
func (m *MemoryLedger) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.st.entries...)
}

// Wallets returns a copy of every wallet ordered by id.
func (m *MemoryLedger) Wallets() []Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Wallet, 0, len(m.st.wallets))
	for _, w := range m.st.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Ledger = (*MemoryLedger)(nil)

// memTx operates on state the caller has already locked.
type memTx struct {
	st  *memState
	now time.Time
}

func (t *memTx) GetOrCreate(_ context.Context, owner Owner) (Wallet, error) {
	if !owner.Valid() {
		return Wallet{}, ErrInvalidArgument
	}
	if id, ok := t.st.byOwner[owner]; ok {
		return t.st.wallets[id], nil
	}
	t.st.nextWalletID++
	w := Wallet{
		ID:        t.st.nextWalletID,
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		CreatedAt: t.now,
		UpdatedAt: t.now,
	}
	t.st.wallets[w.ID] = w
	t.st.byOwner[owner] = w.ID
	return w, nil
}

func (t *memTx) Get(_ context.Context, owner Owner) (Wallet, error) {
	if !owner.Valid() {
		return Wallet{}, ErrInvalidArgument
	}
	id, ok := t.st.byOwner[owner]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return t.st.wallets[id], nil
}

func (t *memTx) GetByID(_ context.Context, walletID int64) (Wallet, error) {
	w, ok := t.st.wallets[walletID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (t *memTx) Adjust(_ context.Context, walletID int64, delta int64) (Wallet, error) {
	if delta == 0 {
		return Wallet{}, ErrInvalidArgument
	}
	w, ok := t.st.wallets[walletID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if w.Balance+delta < 0 {
		return Wallet{}, ErrInsufficientBalance
	}
	w.Balance += delta
	w.UpdatedAt = t.now
	t.st.wallets[walletID] = w
	return w, nil
}

func (t *memTx) Append(_ context.Context, e LedgerEntry) (LedgerEntry, error) {
	if err := validateEntry(e); err != nil {
		return LedgerEntry{}, err
	}
	if e.IdempotencyKey != "" {
		if idx, ok := t.st.byKey[e.IdempotencyKey]; ok {
			return t.st.entries[idx], ErrDuplicateIdempotencyKey
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now
	}
	t.st.nextEntryID++
	e.ID = t.st.nextEntryID
	t.st.entries = append(t.st.entries, e)
	if e.IdempotencyKey != "" {
		t.st.byKey[e.IdempotencyKey] = len(t.st.entries) - 1
	}
	return e, nil
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, key string) (LedgerEntry, error) {
	if key == "" {
		return LedgerEntry{}, ErrInvalidArgument
	}
	idx, ok := t.st.byKey[key]
	if !ok {
		return LedgerEntry{}, ErrNotFound
	}
	return t.st.entries[idx], nil
}

func (t *memTx) ListByWallet(_ context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range t.st.entries {
		if e.WalletID != walletID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
