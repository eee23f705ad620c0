package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/models"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type memState struct {
	users   map[string]models.User
	entries []models.LedgerEntry
	codes   map[string]models.RedeemCode
	audits  []models.AuditLog
}

func (s memState) clone() memState {
	out := memState{
		users:   make(map[string]models.User, len(s.users)),
		entries: append([]models.LedgerEntry(nil), s.entries...),
		codes:   make(map[string]models.RedeemCode, len(s.codes)),
		audits:  append([]models.AuditLog(nil), s.audits...),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	return out
}

// memStore backs every store interface with maps guarded by one mutex.
type memStore struct {
	mu    sync.Mutex
	state memState
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		users: map[string]models.User{},
		codes: map[string]models.RedeemCode{},
	}}
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) restore(state memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *memStore) entriesFor(userID string) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.state.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) ledgerSum(userID string) int64 {
	var sum int64
	for _, e := range m.entriesFor(userID) {
		sum += e.Amount
	}
	return sum
}

func (m *memStore) cached(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.users[userID].CachedBalance
}

func (m *memStore) setCached(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.state.users[userID]
	u.CachedBalance = balance
	m.state.users[userID] = u
}

func (m *memStore) code(code string) models.RedeemCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.codes[code]
}

func (m *memStore) auditLogs() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.state.audits...)
}

type memUsers struct{ m *memStore }

func (u memUsers) Ensure(_ context.Context, _ store.Execer, userID string) (bool, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if _, ok := u.m.state.users[userID]; ok {
		return false, nil
	}
	u.m.state.users[userID] = models.User{ID: userID, CreatedAt: time.Now()}
	return true, nil
}

func (u memUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.state.users[userID]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return user, nil
}

func (u memUsers) GetForUpdate(ctx context.Context, _ store.Getter, userID string) (models.User, error) {
	return u.GetByID(ctx, userID)
}

func (u memUsers) UpdateCachedBalance(_ context.Context, _ store.Execer, userID string, balance int64) error {
	u.m.setCached(userID, balance)
	return nil
}

func (u memUsers) HealCachedBalance(_ context.Context, _ store.Execer, userID string, expected, balance int64) (bool, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.state.users[userID]
	if !ok || user.CachedBalance != expected {
		return false, nil
	}
	user.CachedBalance = balance
	u.m.state.users[userID] = user
	return true, nil
}

func (u memUsers) CheckBalance(_ context.Context, userID string) (models.BalanceCheck, error) {
	if _, err := u.GetByID(context.Background(), userID); err != nil {
		return models.BalanceCheck{}, err
	}
	ledger := u.m.ledgerSum(userID)
	cached := u.m.cached(userID)
	return models.BalanceCheck{UserID: userID, LedgerBalance: ledger, CachedBalance: cached, Difference: cached - ledger}, nil
}

func (u memUsers) ListDivergent(ctx context.Context) ([]models.BalanceCheck, error) {
	u.m.mu.Lock()
	ids := make([]string, 0, len(u.m.state.users))
	for id := range u.m.state.users {
		ids = append(ids, id)
	}
	u.m.mu.Unlock()
	sort.Strings(ids)
	var out []models.BalanceCheck
	for _, id := range ids {
		check, err := u.CheckBalance(ctx, id)
		if err != nil {
			return nil, err
		}
		if !check.Valid() {
			out = append(out, check)
		}
	}
	return out, nil
}

type memLedger struct{ m *memStore }

func (l memLedger) Insert(_ context.Context, _ store.Execer, in store.LedgerEntryInput) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if _, ok := l.m.state.users[in.UserID]; !ok {
		return store.ErrNotFound
	}
	if in.RefID != nil {
		for _, e := range l.m.state.entries {
			if e.UserID == in.UserID && e.Action == in.Action && e.RefID != nil && *e.RefID == *in.RefID {
				return store.ErrDuplicateEntry
			}
		}
	}
	l.m.state.entries = append(l.m.state.entries, models.LedgerEntry{
		ID:            in.ID,
		UserID:        in.UserID,
		Amount:        in.Amount,
		Action:        in.Action,
		RefID:         in.RefID,
		TransactionID: in.TransactionID,
		BalanceAfter:  in.BalanceAfter,
		Description:   in.Description,
		CreatedAt:     in.CreatedAt,
	})
	return nil
}

func (l memLedger) SumByUser(_ context.Context, _ store.Getter, userID string) (int64, error) {
	return l.m.ledgerSum(userID), nil
}

func (l memLedger) SumDebitsSince(_ context.Context, _ store.Getter, userID string, since time.Time) (int64, error) {
	var sum int64
	for _, e := range l.m.entriesFor(userID) {
		if e.Amount < 0 && !e.CreatedAt.Before(since) {
			sum -= e.Amount
		}
	}
	return sum, nil
}

func (l memLedger) FindByRef(_ context.Context, _ store.Getter, userID, refID, action string) (models.LedgerEntry, error) {
	for _, e := range l.m.entriesFor(userID) {
		if e.Action == action && e.RefID != nil && *e.RefID == refID {
			return e, nil
		}
	}
	return models.LedgerEntry{}, store.ErrNotFound
}

func (l memLedger) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	entries := l.m.entriesFor(userID)
	out := []models.LedgerEntry{}
	for i := len(entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (l memLedger) CountByUser(_ context.Context, userID string) (int64, error) {
	return int64(len(l.m.entriesFor(userID))), nil
}

type memCodes struct{ m *memStore }

func (c memCodes) Create(_ context.Context, _ store.Execer, code models.RedeemCode) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.state.codes[code.Code]; ok {
		return store.ErrDuplicateCode
	}
	c.m.state.codes[code.Code] = code
	return nil
}

func (c memCodes) Exists(_ context.Context, _ store.Getter, code string) (bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	_, ok := c.m.state.codes[code]
	return ok, nil
}

func (c memCodes) GetByCode(_ context.Context, code string) (models.RedeemCode, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	rc, ok := c.m.state.codes[code]
	if !ok {
		return models.RedeemCode{}, store.ErrNotFound
	}
	return rc, nil
}

func (c memCodes) GetForUpdate(ctx context.Context, _ store.Getter, code string) (models.RedeemCode, error) {
	return c.GetByCode(ctx, code)
}

func (c memCodes) MarkUsed(_ context.Context, _ store.Execer, code, userID string, at time.Time) (int64, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	rc, ok := c.m.state.codes[code]
	if !ok || rc.Used || rc.Disabled {
		return 0, nil
	}
	rc.Used = true
	rc.UsedBy = &userID
	rc.UsedAt = &at
	c.m.state.codes[code] = rc
	return 1, nil
}

func (c memCodes) Disable(_ context.Context, _ store.Execer, code, actorID string, at time.Time) (int64, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	rc, ok := c.m.state.codes[code]
	if !ok || rc.Used || rc.Disabled {
		return 0, nil
	}
	rc.Disabled = true
	rc.DisabledBy = &actorID
	rc.DisabledAt = &at
	c.m.state.codes[code] = rc
	return 1, nil
}

func (c memCodes) List(_ context.Context, limit, offset int) ([]models.RedeemCode, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	out := make([]models.RedeemCode, 0, len(c.m.state.codes))
	for _, rc := range c.m.state.codes {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if offset >= len(out) {
		return []models.RedeemCode{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAudit struct{ m *memStore }

func (a memAudit) Log(_ context.Context, _ store.Execer, actorID, action, entityType, entityID, data string) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	actor := actorID
	a.m.state.audits = append(a.m.state.audits, models.AuditLog{
		ActorUserID: &actor,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Data:        data,
	})
	return nil
}

// serialTxRunner runs one transaction at a time and rolls the memStore back
// when fn fails. A non-nil gate holds every caller until gate callers arrived.
type serialTxRunner struct {
	mu    sync.Mutex
	store *memStore
	gate  *sync.WaitGroup
}

func (r *serialTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if r.gate != nil {
		r.gate.Done()
		r.gate.Wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.store.snapshot()
	if err := fn(nil); err != nil {
		r.store.restore(before)
		return err
	}
	return nil
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) last() websocket.BalanceUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.updates) == 0 {
		return websocket.BalanceUpdate{}
	}
	return h.updates[len(h.updates)-1]
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

type memFixture struct {
	store  *memStore
	runner *serialTxRunner
	hub    *recordingHub
	ledger *LedgerService
	redeem *RedeemService
}

func newMemFixture(t *testing.T, billing config.Billing) *memFixture {
	t.Helper()
	ms := newMemStore()
	runner := &serialTxRunner{store: ms}
	hub := &recordingHub{}
	ledger := NewLedgerService(nil, runner, memUsers{ms}, memLedger{ms}, memAudit{ms}, config.StaticBilling(billing), hub, nil, zerolog.Nop())
	redeem := NewRedeemService(nil, runner, memCodes{ms}, ledger, memAudit{ms}, zerolog.Nop())
	return &memFixture{store: ms, runner: runner, hub: hub, ledger: ledger, redeem: redeem}
}

func (f *memFixture) setNow(now time.Time) {
	f.ledger.now = func() time.Time { return now }
	f.redeem.now = func() time.Time { return now }
}

func enabledBilling() config.Billing {
	return config.Billing{Enabled: true}
}

func strPtr(value string) *string {
	return &value
}
