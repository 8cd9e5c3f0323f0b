package history_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Create(filepath.Join(dir, "namedb.sqlite"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveDeltaCarriesOnlyBackupFields(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	preRecord := map[string]interface{}{
		"op": model.NameUpdate, "value_hash": "old-hash",
	}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 100, 0, "tx1", preRecord, false))

	entries, err := j.Fetch(s.DB, "foo.id")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].IsSnapshot())
	require.Equal(t, "old-hash", entries[0].HistoryData["value_hash"])
	require.Equal(t, string(model.NameUpdate), entries[0].HistoryData["op"])
}

func TestSaveForcesSnapshotWhenPriorOpMutatesAll(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	preRecord := map[string]interface{}{
		"op": model.NameRegistration, "name": "foo.id", "preorder_hash": "ph",
		"name_hash128": "h", "namespace_id": "id", "namespace_block_number": int64(1),
		"sender": "s", "preorder_block_number": int64(1), "first_registered": int64(100),
		"last_renewed": int64(100), "revoked": false, "txid": "tx0", "vtxindex": int64(0),
		"op_fee": int64(0),
	}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 101, 0, "tx1", preRecord, false))

	entries, err := j.Fetch(s.DB, "foo.id")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsSnapshot())
	require.Equal(t, "foo.id", entries[0].HistoryData["name"])
}

func TestSaveExplicitSnapshot(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	preRecord := map[string]interface{}{"op": model.NameUpdate, "value_hash": "h"}
	require.NoError(t, j.Save(s.DB, model.NameTransfer, "foo.id", 100, 0, "tx1", preRecord, true))

	entries, err := j.Fetch(s.DB, "foo.id")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsSnapshot())
}

func TestFetchOrdersByBlockThenVtxindex(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	pre := map[string]interface{}{"op": model.NameRegistration, "value_hash": "a"}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 105, 1, "tx2", pre, false))
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 100, 0, "tx1", pre, false))
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 105, 0, "tx3", pre, false))

	entries, err := j.Fetch(s.DB, "foo.id")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.EqualValues(t, 100, entries[0].BlockID)
	require.EqualValues(t, 105, entries[1].BlockID)
	require.EqualValues(t, 0, entries[1].Vtxindex)
	require.EqualValues(t, 1, entries[2].Vtxindex)
}

func TestFetchRangeFiltersByBlockWindow(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	pre := map[string]interface{}{"op": model.NameRegistration, "value_hash": "a"}
	for _, b := range []int64{100, 150, 200} {
		require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", b, 0, "tx", pre, false))
	}

	entries, err := j.FetchRange(s.DB, "foo.id", 100, 200)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTouchedBlocksTracksDistinctBlocks(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	pre := map[string]interface{}{"op": model.NameRegistration, "value_hash": "a"}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 100, 0, "tx1", pre, false))
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 100, 1, "tx2", pre, false))
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 150, 0, "tx3", pre, false))

	bm, err := history.TouchedBlocks(s.DB, "foo.id")
	require.NoError(t, err)
	require.EqualValues(t, 2, bm.GetCardinality())
	require.True(t, bm.Contains(100))
	require.True(t, bm.Contains(150))
}

func TestLargePayloadRoundTripsThroughCompression(t *testing.T) {
	s := openTestStore(t)
	cat := opcode.New()
	j := history.New(cat)

	big := make(map[string]interface{}, 50)
	preRecord := map[string]interface{}{"op": model.NameRegistration}
	for i := 0; i < 50; i++ {
		key := "field"
		_ = big
		preRecord[key+string(rune('a'+i%26))] = "padding-value-to-exceed-the-compression-threshold-xxxxxxxxxxxxxxxxxxxx"
	}
	require.NoError(t, j.Save(s.DB, model.NameUpdate, "foo.id", 100, 0, "tx1", preRecord, true))

	entries, err := j.Fetch(s.DB, "foo.id")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsSnapshot())
}
