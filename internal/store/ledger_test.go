package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maletapp/malet-client-go/internal/domain"
	"github.com/maletapp/malet-client-go/internal/infra/keychain"
	"github.com/maletapp/malet-client-go/internal/infra/observability"
	"github.com/maletapp/malet-client-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(session *store.Session, bank *fakeBankAPI, snapshots *fakeSnapshots) *store.Ledger {
	if snapshots == nil {
		return store.NewLedger(session, bank, nil, observability.NewMetrics(), zap.NewNop())
	}
	return store.NewLedger(session, bank, snapshots, observability.NewMetrics(), zap.NewNop())
}

func TestHistory_FetchAndCache(t *testing.T) {
	bank := newFakeBankAPI()
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))

	entry, ok := ledger.Entry("acc-1")
	require.True(t, ok)
	require.Len(t, entry.Items, 2)
	assert.False(t, entry.Loading)
	assert.Empty(t, entry.Err)
	assert.False(t, entry.FetchedAt.IsZero())

	// Warm cache: the second non-forced call issues no network traffic.
	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))
	assert.Equal(t, 1, bank.calls("acc-1"))
}

func TestHistory_ForceRefetches(t *testing.T) {
	bank := newFakeBankAPI()
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))
	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", true))

	assert.Equal(t, 2, bank.calls("acc-1"))
}

func TestHistory_SortsNewestFirst(t *testing.T) {
	bank := newFakeBankAPI()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	bank.txResults["acc-1"] = []domain.Transaction{
		{ID: "old", AccountID: "acc-1", IssuedAt: base.Add(-72 * time.Hour)},
		{ID: "new", AccountID: "acc-1", IssuedAt: base},
		{ID: "mid", AccountID: "acc-1", IssuedAt: base.Add(-24 * time.Hour)},
	}
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))

	entry, _ := ledger.Entry("acc-1")
	require.Len(t, entry.Items, 3)
	assert.Equal(t, "new", entry.Items[0].ID)
	assert.Equal(t, "mid", entry.Items[1].ID)
	assert.Equal(t, "old", entry.Items[2].ID)
}

func TestHistory_FailurePreservesItems(t *testing.T) {
	bank := newFakeBankAPI()
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)
	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))

	bank.mu.Lock()
	bank.txErr = &domain.ErrNetwork{Op: "transactions"}
	bank.mu.Unlock()

	ok := ledger.HistoryTransactions(context.Background(), "acc-1", true)

	assert.False(t, ok)
	entry, _ := ledger.Entry("acc-1")
	assert.Len(t, entry.Items, 2, "a transient failure must not blank a previously successful view")
	assert.False(t, entry.Loading)
	assert.NotEmpty(t, entry.Err)
}

func TestHistory_RequiresAuthentication(t *testing.T) {
	bank := newFakeBankAPI()
	session := newTestSession(newFakeAuthAPI(), keychain.NewMemory())
	ledger := newTestLedger(session, bank, nil)

	ok := ledger.HistoryTransactions(context.Background(), "acc-1", false)

	assert.False(t, ok)
	assert.Equal(t, 0, bank.calls("acc-1"))
	entry, found := ledger.Entry("acc-1")
	require.True(t, found)
	assert.NotEmpty(t, entry.Err)
}

func TestHistory_StaleResponseOnlyUpdatesItsOwnEntry(t *testing.T) {
	bank := newFakeBankAPI()
	gate := make(chan struct{})
	bank.txBlock["acc-1"] = gate
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	// Account A's fetch hangs in flight.
	done := make(chan bool)
	go func() {
		done <- ledger.HistoryTransactions(context.Background(), "acc-1", true)
	}()

	// The user switches to account B, whose fetch completes first.
	require.Eventually(t, func() bool { return bank.calls("acc-1") == 1 }, time.Second, time.Millisecond)
	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-2", true))

	bEntry, _ := ledger.Entry("acc-2")
	require.Len(t, bEntry.Items, 2)

	// A's late response lands in A's entry and leaves B untouched.
	close(gate)
	require.True(t, <-done)

	aEntry, _ := ledger.Entry("acc-1")
	require.Len(t, aEntry.Items, 2)
	assert.Equal(t, "acc-1", aEntry.Items[0].AccountID)

	bEntry, _ = ledger.Entry("acc-2")
	require.Len(t, bEntry.Items, 2)
	assert.Equal(t, "acc-2", bEntry.Items[0].AccountID)
}

func TestHistory_ConcurrentCallsShareOneFlight(t *testing.T) {
	bank := newFakeBankAPI()
	gate := make(chan struct{})
	bank.txBlock["acc-1"] = gate
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.HistoryTransactions(context.Background(), "acc-1", true)
		}()
	}

	require.Eventually(t, func() bool { return bank.calls("acc-1") >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // give the other goroutines time to join the flight
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, bank.calls("acc-1"), "at most one in-flight fetch per account id")
}

func TestHistory_SessionEndedWhileInFlight(t *testing.T) {
	bank := newFakeBankAPI()
	gate := make(chan struct{})
	bank.txBlock["acc-1"] = gate
	snapshots := newFakeSnapshots()
	session := authedSession(newFakeAuthAPI())
	ledger := newTestLedger(session, bank, snapshots)

	done := make(chan bool)
	go func() {
		done <- ledger.HistoryTransactions(context.Background(), "acc-1", true)
	}()
	require.Eventually(t, func() bool { return bank.calls("acc-1") == 1 }, time.Second, time.Millisecond)

	// The user logs out while the fetch hangs; the synchronizer's
	// cascade clears the ledger before the response lands.
	session.Logout(context.Background())
	ledger.Reset()

	close(gate)
	assert.False(t, <-done)

	_, ok := ledger.Entry("acc-1")
	assert.False(t, ok, "previous user's ledger must not survive logout")
	saved, err := snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, saved, "stale response must not repopulate purged snapshots")
}

func TestHistory_FailureAfterLogoutLeavesNoError(t *testing.T) {
	bank := newFakeBankAPI()
	gate := make(chan struct{})
	bank.txBlock["acc-1"] = gate
	bank.txErr = &domain.ErrNetwork{Op: "transactions"}
	session := authedSession(newFakeAuthAPI())
	ledger := newTestLedger(session, bank, nil)

	done := make(chan bool)
	go func() {
		done <- ledger.HistoryTransactions(context.Background(), "acc-1", true)
	}()
	require.Eventually(t, func() bool { return bank.calls("acc-1") == 1 }, time.Second, time.Millisecond)

	session.Logout(context.Background())
	ledger.Reset()

	close(gate)
	assert.False(t, <-done)

	_, ok := ledger.Entry("acc-1")
	assert.False(t, ok, "a failure from an ended session must not recreate the entry")
}

func TestLedger_HydrateAndReset(t *testing.T) {
	snapshots := newFakeSnapshots()
	fetchedAt := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, snapshots.Save(context.Background(), "acc-1", testTransactions("acc-1"), fetchedAt))

	bank := newFakeBankAPI()
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, snapshots)
	ledger.Hydrate(context.Background())

	entry, ok := ledger.Entry("acc-1")
	require.True(t, ok)
	assert.Len(t, entry.Items, 2)
	assert.True(t, entry.FetchedAt.Equal(fetchedAt))
	assert.False(t, entry.Loading)

	// A hydrated entry counts as warm: no refetch without force.
	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-1", false))
	assert.Equal(t, 0, bank.calls("acc-1"))

	// Reset clears memory and the persisted snapshots.
	ledger.Reset()
	_, ok = ledger.Entry("acc-1")
	assert.False(t, ok)
	saved, err := snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestLedger_SuccessfulFetchIsSnapshotted(t *testing.T) {
	snapshots := newFakeSnapshots()
	bank := newFakeBankAPI()
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, snapshots)

	require.True(t, ledger.HistoryTransactions(context.Background(), "acc-2", false))

	saved, err := snapshots.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, saved, "acc-2")
	assert.Len(t, saved["acc-2"].Items, 2)
}

func TestLedger_SetError_Dismiss(t *testing.T) {
	bank := newFakeBankAPI()
	bank.txErr = &domain.ErrNetwork{Op: "transactions"}
	ledger := newTestLedger(authedSession(newFakeAuthAPI()), bank, nil)

	ledger.HistoryTransactions(context.Background(), "acc-1", false)
	entry, _ := ledger.Entry("acc-1")
	require.NotEmpty(t, entry.Err)

	ledger.SetError("acc-1", "")

	entry, _ = ledger.Entry("acc-1")
	assert.Empty(t, entry.Err)
}
