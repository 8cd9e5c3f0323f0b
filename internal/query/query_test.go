package query_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/cache"
	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/query"
	"github.com/ledgerwatch/namedb/internal/recordops"
	"github.com/ledgerwatch/namedb/internal/store"
)

func newTestLayer(t *testing.T) (*query.Layer, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Create(filepath.Join(dir, "namedb.sqlite"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := cache.New(64, 1<<20)
	require.NoError(t, err)
	j := history.New(opcode.New())
	return query.New(s.DB, c, j), s
}

func insertNamespace(t *testing.T, s *store.Store, ns model.Namespace) {
	t.Helper()
	fields, err := store.NamespaceFields(ns)
	require.NoError(t, err)
	require.NoError(t, recordops.Insert(s.DB, store.NamespacesTable, fields))
}

func insertName(t *testing.T, s *store.Store, r model.NameRecord) {
	t.Helper()
	require.NoError(t, recordops.Insert(s.DB, store.NameRecordsTable, store.NameRecordFields(r)))
}

func readyNamespace(id string, block int64) model.Namespace {
	return model.Namespace{
		NamespaceID: id, BlockNumber: block, PreorderHash: "nsph",
		Sender: "s", Recipient: "s", RevealBlock: block, ReadyBlock: block,
		Op: model.NamespaceReady, Lifetime: 52595, Coeff: 4, Base: 2,
	}
}

func TestGetNameReturnsUnexpiredRecord(t *testing.T) {
	q, s := newTestLayer(t)
	insertNamespace(t, s, readyNamespace("id", 1))
	insertName(t, s, model.NameRecord{
		Name: "foo.id", BlockNumber: 100, PreorderHash: "ph", NameHash128: "h",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "sender1",
		PreorderBlockNumber: 99, FirstRegistered: 100, LastRenewed: 100,
		Op: model.NameRegistration, Txid: "tx1",
	})

	rec, err := q.GetName("foo.id", 100)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "foo.id", rec.Name)
}

func TestGetNameReturnsNilPastExpiry(t *testing.T) {
	q, s := newTestLayer(t)
	insertNamespace(t, s, readyNamespace("id", 1))
	insertName(t, s, model.NameRecord{
		Name: "foo.id", BlockNumber: 100, PreorderHash: "ph", NameHash128: "h",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "sender1",
		PreorderBlockNumber: 99, FirstRegistered: 100, LastRenewed: 100,
		Op: model.NameRegistration, Txid: "tx1",
	})

	rec, err := q.GetName("foo.id", 100+52595+1)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetNameStillReturnsRevokedRecord(t *testing.T) {
	q, s := newTestLayer(t)
	insertNamespace(t, s, readyNamespace("id", 1))
	insertName(t, s, model.NameRecord{
		Name: "foo.id", BlockNumber: 100, PreorderHash: "ph", NameHash128: "h",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "sender1",
		PreorderBlockNumber: 99, FirstRegistered: 100, LastRenewed: 100,
		Revoked: true, Op: model.NameRevoke, Txid: "tx1",
	})

	rec, err := q.GetName("foo.id", 100)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Revoked)
}

func TestGetNamesOwnedByAddressExcludesRevoked(t *testing.T) {
	q, s := newTestLayer(t)
	insertNamespace(t, s, readyNamespace("id", 1))
	insertName(t, s, model.NameRecord{
		Name: "live.id", BlockNumber: 100, PreorderHash: "ph1", NameHash128: "h1",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "s", Address: strPtr("addr1"),
		PreorderBlockNumber: 99, FirstRegistered: 100, LastRenewed: 100,
		Op: model.NameRegistration, Txid: "tx1",
	})
	insertName(t, s, model.NameRecord{
		Name: "gone.id", BlockNumber: 101, PreorderHash: "ph2", NameHash128: "h2",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "s", Address: strPtr("addr1"),
		PreorderBlockNumber: 99, FirstRegistered: 101, LastRenewed: 101,
		Revoked: true, Op: model.NameRevoke, Txid: "tx2",
	})

	names, err := q.GetNamesOwnedByAddress("addr1", 101)
	require.NoError(t, err)
	require.Equal(t, []string{"live.id"}, names)
}

func TestGetNamePreorderRespectsExpiryWindow(t *testing.T) {
	q, s := newTestLayer(t)
	require.NoError(t, recordops.Insert(s.DB, store.PreordersTable, store.PreorderFields(model.Preorder{
		PreorderHash: "ph1", ConsensusHash: "ch", Sender: "s", Address: "a",
		BlockNumber: 100, Op: model.NamePreorder, Txid: "tx1",
	})))

	p, err := q.GetNamePreorder("ph1", 110, 20)
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = q.GetNamePreorder("ph1", 121, 20)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestCacheIsInvalidated(t *testing.T) {
	q, s := newTestLayer(t)
	insertNamespace(t, s, readyNamespace("id", 1))
	insertName(t, s, model.NameRecord{
		Name: "foo.id", BlockNumber: 100, PreorderHash: "ph", NameHash128: "h",
		NamespaceID: "id", NamespaceBlockNumber: 1, Sender: "sender1",
		PreorderBlockNumber: 99, FirstRegistered: 100, LastRenewed: 100,
		Op: model.NameRegistration, Txid: "tx1",
	})

	rec, err := q.GetName("foo.id", 100)
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, err = s.DB.Exec(`UPDATE name_records SET sender = ? WHERE name = ?`, "sender2", "foo.id")
	require.NoError(t, err)

	cached, err := q.GetName("foo.id", 100)
	require.NoError(t, err)
	require.Equal(t, "sender1", cached.Sender, "stale cache entry should still be served before invalidation")

	q.Invalidate()
	fresh, err := q.GetName("foo.id", 100)
	require.NoError(t, err)
	require.Equal(t, "sender2", fresh.Sender)
}

func strPtr(s string) *string { return &s }
