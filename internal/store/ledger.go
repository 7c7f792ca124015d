package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ledgerTracer = otel.Tracer("store/ledger")

// LedgerEntry is the cached transaction history of one account.
type LedgerEntry struct {
	Items     []domain.Transaction // newest first
	Loading   bool
	Err       string
	FetchedAt time.Time
}

// LedgerState is the published snapshot: one entry per account id.
type LedgerState map[string]LedgerEntry

// Ledger owns per-account transaction history. Entries are keyed by the
// account id they were requested for, so a response that arrives after
// the selection moved on still updates only its own account's entry;
// the UI always reads the entry of the currently selected id.
type Ledger struct {
	session   *Session
	api       port.BankAPI
	snapshots port.LedgerSnapshots // optional, may be nil
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*LedgerEntry
	flights singleflight.Group
	feed    feed[LedgerState]
}

// NewLedger creates the ledger cache. snapshots may be nil to disable
// offline persistence.
func NewLedger(session *Session, api port.BankAPI, snapshots port.LedgerSnapshots, metrics *observability.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{
		session:   session,
		api:       api,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
		entries:   map[string]*LedgerEntry{},
	}
}

// Hydrate loads persisted snapshots as warm cache entries. Best-effort:
// a failure only logs, the cache starts cold.
func (l *Ledger) Hydrate(ctx context.Context) {
	if l.snapshots == nil {
		return
	}
	saved, err := l.snapshots.Load(ctx)
	if err != nil {
		l.logger.Warn("ledger snapshot load failed", zap.Error(err))
		return
	}
	if len(saved) == 0 {
		return
	}

	l.mu.Lock()
	for accountID, snap := range saved {
		if _, ok := l.entries[accountID]; ok {
			continue
		}
		l.entries[accountID] = &LedgerEntry{Items: snap.Items, FetchedAt: snap.FetchedAt}
	}
	snapState := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.Info("ledger hydrated from snapshot", zap.Int("accounts", len(saved)))
	l.feed.publish(snapState)
}

// State returns a copy of all entries.
func (l *Ledger) State() LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Entry returns the cached entry for accountID.
func (l *Ledger) Entry(accountID string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[accountID]
	if !ok {
		return LedgerEntry{}, false
	}
	return *e, true
}

// Subscribe registers fn for every state change and returns a cancel
// function.
func (l *Ledger) Subscribe(fn func(LedgerState)) func() {
	return l.feed.subscribe(fn)
}

// HistoryTransactions fetches the transaction history for accountID.
// With a warm, non-loading entry and force false the call is a no-op
// cache hit. At most one fetch per account id is in flight at any time;
// concurrent callers join the existing flight. On failure previously
// fetched items are preserved so a transient error never blanks a view.
func (l *Ledger) HistoryTransactions(ctx context.Context, accountID string, force bool) bool {
	if accountID == "" {
		return false
	}

	ctx, span := ledgerTracer.Start(ctx, "Ledger.HistoryTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.Bool("force", force))

	sess := l.session.State()
	if sess.Status != StatusAuthenticated {
		l.applyError(accountID, domain.Message(&domain.ErrUnauthorized{Message: "You must be signed in to view transactions."}))
		return false
	}

	l.mu.Lock()
	if e, ok := l.entries[accountID]; ok && !e.Loading && !force && len(e.Items) > 0 {
		l.mu.Unlock()
		l.metrics.IncrCacheHit("ledger")
		return true
	}
	l.mu.Unlock()
	l.metrics.IncrCacheMiss("ledger")

	ok, err, _ := l.flights.Do(accountID, func() (any, error) {
		return l.fetch(ctx, sess.Token, accountID), nil
	})
	if err != nil {
		return false
	}
	return ok.(bool)
}

// fetch runs one network round-trip for accountID and applies the
// result to that account's entry only.
func (l *Ledger) fetch(ctx context.Context, token, accountID string) bool {
	requestID := uuid.NewString()

	l.mu.Lock()
	e, ok := l.entries[accountID]
	if !ok {
		e = &LedgerEntry{}
		l.entries[accountID] = e
	}
	e.Loading = true
	e.Err = ""
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.feed.publish(snap)

	start := time.Now()
	items, err := l.api.ListTransactions(ctx, token, accountID)
	l.metrics.RecordFetchDuration("transactions", time.Since(start))

	if err != nil {
		l.metrics.IncrFetchError("transactions")
		l.logger.Warn("transaction fetch failed",
			zap.String("account_id", accountID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		if l.sessionEnded(token) {
			return false
		}
		l.applyError(accountID, domain.Message(err))
		return false
	}

	// Consume-time session check: a response issued under a session that
	// has since ended must not recreate that user's data after the
	// logout cascade cleared it.
	if l.sessionEnded(token) {
		l.logger.Debug("dropping ledger response for ended session",
			zap.String("account_id", accountID),
			zap.String("request_id", requestID),
		)
		return false
	}

	// Defensive re-sort: the contract says newest first, but the cache
	// guarantees it regardless of the server.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].IssuedAt.After(items[j].IssuedAt)
	})

	fetchedAt := time.Now()

	l.mu.Lock()
	// Apply keyed by the account id captured at request time; a stale
	// response never touches another account's entry.
	entry := l.entries[accountID]
	if entry == nil {
		entry = &LedgerEntry{}
		l.entries[accountID] = entry
	}
	entry.Items = items
	entry.Loading = false
	entry.Err = ""
	entry.FetchedAt = fetchedAt
	snap = l.snapshotLocked()
	l.mu.Unlock()

	l.logger.Debug("transactions fetched",
		zap.String("account_id", accountID),
		zap.String("request_id", requestID),
		zap.Int("count", len(items)),
	)
	l.feed.publish(snap)

	// Re-checked so a logout landing between apply and save cannot
	// repopulate the just-purged snapshots.
	if l.snapshots != nil && !l.sessionEnded(token) {
		if err := l.snapshots.Save(ctx, accountID, items, fetchedAt); err != nil {
			l.logger.Warn("ledger snapshot save failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return true
}

// sessionEnded reports whether the session a request was issued under
// is no longer the current authenticated one.
func (l *Ledger) sessionEnded(token string) bool {
	sess := l.session.State()
	return sess.Status != StatusAuthenticated || sess.Token != token
}

// SetError overwrites the displayed error of one account's entry; an
// empty message dismisses it.
func (l *Ledger) SetError(accountID, message string) {
	l.mu.Lock()
	e, ok := l.entries[accountID]
	if !ok {
		l.mu.Unlock()
		return
	}
	e.Err = message
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.feed.publish(snap)
}

// Reset clears every cached entry and purges the persisted snapshots.
// Invoked by the synchronizer on logout.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = map[string]*LedgerEntry{}
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.feed.publish(snap)

	if l.snapshots != nil {
		if err := l.snapshots.Purge(context.Background()); err != nil {
			l.logger.Warn("ledger snapshot purge failed", zap.Error(err))
		}
	}
}

func (l *Ledger) applyError(accountID, message string) {
	l.mu.Lock()
	e, ok := l.entries[accountID]
	if !ok {
		e = &LedgerEntry{}
		l.entries[accountID] = e
	}
	e.Loading = false
	e.Err = message
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.feed.publish(snap)
}

// snapshotLocked copies the entry map. Item slices are shared but
// immutable once fetched.
func (l *Ledger) snapshotLocked() LedgerState {
	out := make(LedgerState, len(l.entries))
	for id, e := range l.entries {
		out[id] = *e
	}
	return out
}
