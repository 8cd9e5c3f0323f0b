package replay_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/recordops"
	"github.com/ledgerwatch/namedb/internal/replay"
	"github.com/ledgerwatch/namedb/internal/store"
)

func newTestReplayer(t *testing.T) (*replay.Replayer, *store.Store, *history.Journal) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Create(filepath.Join(dir, "namedb.sqlite"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	j := history.New(opcode.New())
	return replay.New(s.DB, j), s, j
}

// seedNameHistory writes a creation snapshot at block 100 (value_hash="v0")
// followed by a value_hash update at block 105 (carrying forward the old
// value_hash="v0" into the delta), mirroring what the engine would record
// for NAME_REGISTRATION followed by NAME_UPDATE.
func seedNameHistory(t *testing.T, s *store.Store, j *history.Journal) {
	t.Helper()
	snapshot := map[string]interface{}{
		"op": model.NameRegistration, "name": "foo.id", "value_hash": "v0", "sender": "sender1",
	}
	require.NoError(t, j.Save(s.DB, model.NameRegistration, "foo.id", 100, 0, "tx1", snapshot, true))

	preUpdate := map[string]interface{}{"op": model.NameUpdate, "value_hash": "v0"}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 105, 0, "tx2", preUpdate, false))
}

func TestRestoreAtUndoesLaterDelta(t *testing.T) {
	r, s, j := newTestReplayer(t)
	seedNameHistory(t, s, j)

	live := map[string]interface{}{
		"name": "foo.id", "block_number": int64(100), "value_hash": "v1", "sender": "sender1",
	}
	states, err := r.RestoreAt("foo.id", live, 100, 100)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "v0", states[0]["value_hash"])
}

func TestRestoreAtPastLatestHistoryReturnsLiveState(t *testing.T) {
	r, s, j := newTestReplayer(t)
	seedNameHistory(t, s, j)

	live := map[string]interface{}{
		"name": "foo.id", "block_number": int64(100), "value_hash": "v1", "sender": "sender1",
	}
	states, err := r.RestoreAt("foo.id", live, 100, 200)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "v1", states[0]["value_hash"])
}

func TestRestoreAtBeforeCreationReturnsNothing(t *testing.T) {
	r, s, j := newTestReplayer(t)
	seedNameHistory(t, s, j)

	live := map[string]interface{}{
		"name": "foo.id", "block_number": int64(100), "value_hash": "v1", "sender": "sender1",
	}
	states, err := r.RestoreAt("foo.id", live, 100, 50)
	require.NoError(t, err)
	require.Nil(t, states)
}

func TestRestoreAtWithNoHistoryRequiresLiveStateToBeASnapshot(t *testing.T) {
	r, _, _ := newTestReplayer(t)

	live := map[string]interface{}{"name": "bar.id", "value_hash": "v0"}
	_, err := r.RestoreAt("bar.id", live, 0, 0)
	require.Error(t, err)

	live["history_snapshot"] = true
	states, err := r.RestoreAt("bar.id", live, 0, 0)
	require.NoError(t, err)
	require.Len(t, states, 1)
}

// seedSnapshot inserts a row's live fields and a matching creation
// snapshot at its own (block, vtxindex), as StateCreate would for a
// freshly-registered entity whose entire consensus state is new.
func seedSnapshot(t *testing.T, s *store.Store, j *history.Journal, op model.Opcode, historyID string, fields map[string]interface{}, blockID, vtxindex int64, txid string) {
	t.Helper()
	require.NoError(t, j.Save(s.DB, op, historyID, blockID, vtxindex, txid, fields, true))
}

func TestGetAllRecordsAtCollectsNamesNamespacesAndPreorders(t *testing.T) {
	r, s, j := newTestReplayer(t)

	ns := model.Namespace{
		NamespaceID: "id", BlockNumber: 10, PreorderHash: "nsph", Sender: "s", Recipient: "s",
		RevealBlock: 10, ReadyBlock: 10, Op: model.NamespaceReady, Txid: "tx0", Vtxindex: 0,
		Lifetime: 52595, Coeff: 4, Base: 2,
	}
	nsFields, err := store.NamespaceFields(ns)
	require.NoError(t, err)
	require.NoError(t, recordops.Insert(s.DB, store.NamespacesTable, nsFields))
	seedSnapshot(t, s, j, model.NamespaceReady, "id", nsFields, 10, 0, "tx0")

	rec := model.NameRecord{
		Name: "foo.id", BlockNumber: 10, PreorderHash: "ph", NameHash128: "h",
		NamespaceID: "id", NamespaceBlockNumber: 10, Sender: "s",
		PreorderBlockNumber: 9, FirstRegistered: 10, LastRenewed: 10,
		Op: model.NameRegistration, Txid: "tx1", Vtxindex: 1,
	}
	recFields := store.NameRecordFields(rec)
	require.NoError(t, recordops.Insert(s.DB, store.NameRecordsTable, recFields))
	seedSnapshot(t, s, j, model.NameRegistration, "foo.id", recFields, 10, 1, "tx1")

	require.NoError(t, recordops.Insert(s.DB, store.PreordersTable, store.PreorderFields(model.Preorder{
		PreorderHash: "ph2", ConsensusHash: "ch", Sender: "s", Address: "a",
		BlockNumber: 10, Op: model.NamePreorder, Txid: "tx2", Vtxindex: 2,
	})))

	states, err := r.GetAllRecordsAt(10)
	require.NoError(t, err)
	// The namespace appears twice: once as a namespace created at blockID,
	// once as a namespace change at blockID — namedb_get_all_records_at
	// asymmetrically uses block_number <= ? (not <, as for names) in its
	// namespace-change query, so a namespace's own creation is always
	// re-counted by that query too.
	require.Len(t, states, 4)
	require.Equal(t, "id", states[0]["namespace_id"])
	require.EqualValues(t, 0, states[0]["vtxindex"])
	require.Equal(t, "id", states[1]["namespace_id"])
	require.EqualValues(t, 0, states[1]["vtxindex"])
	require.Equal(t, "foo.id", states[2]["name"])
	require.EqualValues(t, 1, states[2]["vtxindex"])
	require.Equal(t, "ph2", states[3]["preorder_hash"])
	require.EqualValues(t, 2, states[3]["vtxindex"])
}

func TestGetAllRecordsAtIgnoresOtherBlocks(t *testing.T) {
	r, s, j := newTestReplayer(t)

	ns := model.Namespace{
		NamespaceID: "id", BlockNumber: 10, PreorderHash: "nsph", Sender: "s", Recipient: "s",
		RevealBlock: 10, ReadyBlock: 10, Op: model.NamespaceReady, Txid: "tx0", Vtxindex: 0,
		Lifetime: 52595, Coeff: 4, Base: 2,
	}
	nsFields, err := store.NamespaceFields(ns)
	require.NoError(t, err)
	require.NoError(t, recordops.Insert(s.DB, store.NamespacesTable, nsFields))
	seedSnapshot(t, s, j, model.NamespaceReady, "id", nsFields, 10, 0, "tx0")

	states, err := r.GetAllRecordsAt(11)
	require.NoError(t, err)
	require.Empty(t, states)
}
