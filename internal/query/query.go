// Package query implements the query layer (component C6): every read
// operation the rest of the system and its external consumers use.
// GetName and GetNamespace go through the read-through cache, with
// concurrent identical misses coalesced; the other reads query the
// database directly.
package query

import (
	"database/sql"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ledgerwatch/namedb/internal/cache"
	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/store"
)

// NamespaceRevealExpire is the number of blocks a revealed-but-not-yet-
// ready namespace remains valid for before its reveal expires.
const NamespaceRevealExpire = 4 * 7 * 144 // ~4 weeks of ten-minute blocks, per the original implementation's constant of the same name

// Layer answers every read in spec §4.6, backed by db. GetName and
// GetNamespace results are cached in c, with concurrent identical misses
// coalesced via singleflight; the other reads are not cached.
type Layer struct {
	db    *sql.DB
	cache *cache.Cache
	j     *history.Journal
	sf    singleflight.Group
}

// New constructs a query Layer.
func New(db *sql.DB, c *cache.Cache, j *history.Journal) *Layer {
	return &Layer{db: db, cache: c, j: j}
}

func (l *Layer) cached(key string, compute func() (interface{}, error)) (interface{}, error) {
	if l.cache != nil {
		if v, ok := l.cache.GetEntry(key); ok {
			return v, nil
		}
	}
	v, err, _ := l.sf.Do(key, compute)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.SetEntry(key, v)
	}
	return v, nil
}

// unexpiredNameWhere returns the SQL fragment and bound args for
// "name_records joined to namespaces is not expired", matching
// namedb_select_where_unexpired_names verbatim: a name is unexpired
// if its namespace is READY and either the namespace's own lifetime
// window hasn't closed or the name's own renewal keeps it alive, or
// the namespace is merely REVEALed and still within its reveal window.
func unexpiredNameWhere(currentBlock int64) (string, []interface{}) {
	frag := `name_records.first_registered <= ? AND (
		(namespaces.op = ? AND (namespaces.ready_block + namespaces.lifetime > ? OR name_records.last_renewed + namespaces.lifetime >= ?)) OR
		(namespaces.op = ? AND namespaces.reveal_block <= ? AND ? < namespaces.reveal_block + ?)
	)`
	args := []interface{}{
		currentBlock,
		string(model.NamespaceReady), currentBlock, currentBlock,
		string(model.NamespaceReveal), currentBlock, currentBlock, NamespaceRevealExpire,
	}
	return frag, args
}

// GetName returns a name's current row if it exists and is not
// expired. A revoked name is still returned — revocation and expiry
// are independent.
func (l *Layer) GetName(name string, currentBlock int64) (*model.NameRecord, error) {
	key := fmt.Sprintf("name:%s@%d", name, currentBlock)
	v, err := l.cached(key, func() (interface{}, error) {
		frag, args := unexpiredNameWhere(currentBlock)
		query := `SELECT name_records.name, name_records.block_number, name_records.preorder_hash,
			name_records.name_hash128, name_records.namespace_id, name_records.namespace_block_number,
			name_records.value_hash, name_records.sender, name_records.sender_pubkey, name_records.address,
			name_records.preorder_block_number, name_records.first_registered, name_records.last_renewed,
			name_records.revoked, name_records.op, name_records.txid, name_records.vtxindex, name_records.op_fee,
			name_records.importer, name_records.importer_address, name_records.consensus_hash
			FROM name_records JOIN namespaces ON name_records.namespace_id = namespaces.namespace_id
			WHERE name = ? AND ` + frag
		row := l.db.QueryRow(query, append([]interface{}{name}, args...)...)
		r, err := store.ScanNameRecord(row)
		if err == sql.ErrNoRows {
			return (*model.NameRecord)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("query: get_name %s: %w", name, err)
		}
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.NameRecord), nil
}

// GetNamespace returns an unexpired namespace (revealed-and-within-
// window, or ready) by ID.
func (l *Layer) GetNamespace(namespaceID string, currentBlock int64) (*model.Namespace, error) {
	key := fmt.Sprintf("namespace:%s@%d", namespaceID, currentBlock)
	v, err := l.cached(key, func() (interface{}, error) {
		query := `SELECT namespace_id, block_number, preorder_hash, version, sender, sender_pubkey,
			address, recipient, recipient_address, reveal_block, ready_block, op, op_fee, txid, vtxindex,
			lifetime, coeff, base, buckets, nonalpha_discount, no_vowel_discount
			FROM namespaces WHERE namespace_id = ? AND (
				(op = ? AND reveal_block <= ? AND ? < reveal_block + ?) OR (op = ?)
			)`
		row := l.db.QueryRow(query, namespaceID, string(model.NamespaceReveal), currentBlock, currentBlock,
			NamespaceRevealExpire, string(model.NamespaceReady))
		n, err := store.ScanNamespace(row)
		if err == sql.ErrNoRows {
			return (*model.Namespace)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("query: get_namespace %s: %w", namespaceID, err)
		}
		return &n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Namespace), nil
}

// GetNamespaceReveal returns the namespace's NAMESPACE_REVEAL-opcode
// row regardless of ready state, used while a namespace is still
// between reveal and ready.
func (l *Layer) GetNamespaceReveal(namespaceID string) (*model.Namespace, error) {
	row := l.db.QueryRow(`SELECT namespace_id, block_number, preorder_hash, version, sender, sender_pubkey,
		address, recipient, recipient_address, reveal_block, ready_block, op, op_fee, txid, vtxindex,
		lifetime, coeff, base, buckets, nonalpha_discount, no_vowel_discount
		FROM namespaces WHERE namespace_id = ? AND op = ?`, namespaceID, string(model.NamespaceReveal))
	n, err := store.ScanNamespace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_namespace_reveal %s: %w", namespaceID, err)
	}
	return &n, nil
}

// GetNamespaceReady returns the namespace's NAMESPACE_READY-opcode row.
func (l *Layer) GetNamespaceReady(namespaceID string) (*model.Namespace, error) {
	row := l.db.QueryRow(`SELECT namespace_id, block_number, preorder_hash, version, sender, sender_pubkey,
		address, recipient, recipient_address, reveal_block, ready_block, op, op_fee, txid, vtxindex,
		lifetime, coeff, base, buckets, nonalpha_discount, no_vowel_discount
		FROM namespaces WHERE namespace_id = ? AND op = ?`, namespaceID, string(model.NamespaceReady))
	n, err := store.ScanNamespace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_namespace_ready %s: %w", namespaceID, err)
	}
	return &n, nil
}

// GetNamesOwnedByAddress returns unexpired, unrevoked names currently
// owned by address.
func (l *Layer) GetNamesOwnedByAddress(address string, currentBlock int64) ([]string, error) {
	frag, args := unexpiredNameWhere(currentBlock)
	query := `SELECT name_records.name FROM name_records JOIN namespaces
		ON name_records.namespace_id = namespaces.namespace_id
		WHERE name_records.address = ? AND name_records.revoked = 0 AND ` + frag
	rows, err := l.db.Query(query, append([]interface{}{address}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query: get_names_owned_by_address %s: %w", address, err)
	}
	defer rows.Close()
	return scanNames(rows)
}

// GetNamesBySender returns unexpired, unrevoked names whose sender
// matches.
func (l *Layer) GetNamesBySender(sender string, currentBlock int64) ([]string, error) {
	frag, args := unexpiredNameWhere(currentBlock)
	query := `SELECT name_records.name FROM name_records JOIN namespaces
		ON name_records.namespace_id = namespaces.namespace_id
		WHERE name_records.sender = ? AND name_records.revoked = 0 AND ` + frag
	rows, err := l.db.Query(query, append([]interface{}{sender}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query: get_names_by_sender %s: %w", sender, err)
	}
	defer rows.Close()
	return scanNames(rows)
}

func scanNames(rows *sql.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetAllNames returns a page of all unexpired names in name order.
func (l *Layer) GetAllNames(currentBlock int64, offset, count int64) ([]string, error) {
	frag, args := unexpiredNameWhere(currentBlock)
	query := `SELECT name_records.name FROM name_records JOIN namespaces
		ON name_records.namespace_id = namespaces.namespace_id
		WHERE ` + frag + ` ORDER BY name_records.name LIMIT ? OFFSET ?`
	rows, err := l.db.Query(query, append(args, count, offset)...)
	if err != nil {
		return nil, fmt.Errorf("query: get_all_names: %w", err)
	}
	defer rows.Close()
	return scanNames(rows)
}

// GetNamesInNamespace returns a page of all unexpired names within a
// namespace, in name order.
func (l *Layer) GetNamesInNamespace(namespaceID string, currentBlock int64, offset, count int64) ([]string, error) {
	frag, args := unexpiredNameWhere(currentBlock)
	query := `SELECT name_records.name FROM name_records JOIN namespaces
		ON name_records.namespace_id = namespaces.namespace_id
		WHERE name_records.namespace_id = ? AND ` + frag + `
		ORDER BY name_records.name LIMIT ? OFFSET ?`
	allArgs := append([]interface{}{namespaceID}, args...)
	allArgs = append(allArgs, count, offset)
	rows, err := l.db.Query(query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("query: get_names_in_namespace %s: %w", namespaceID, err)
	}
	defer rows.Close()
	return scanNames(rows)
}

// GetNamePreorder returns a name preorder that hasn't yet expired and
// hasn't yet been consumed by a creation op.
func (l *Layer) GetNamePreorder(preorderHash string, currentBlock, expiryWindow int64) (*model.Preorder, error) {
	row := l.db.QueryRow(`SELECT preorder_hash, consensus_hash, sender, sender_pubkey, address, block_number, op, op_fee, txid, vtxindex
		FROM preorders WHERE preorder_hash = ? AND block_number + ? > ?`, preorderHash, expiryWindow, currentBlock)
	p, err := store.ScanPreorder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_name_preorder %s: %w", preorderHash, err)
	}
	return &p, nil
}

// GetNamespacePreorder returns a namespace preorder under the same
// expiry-window rule as GetNamePreorder.
func (l *Layer) GetNamespacePreorder(preorderHash string, currentBlock, expiryWindow int64) (*model.Preorder, error) {
	return l.GetNamePreorder(preorderHash, currentBlock, expiryWindow)
}

// GetNameFromNameHash128 reverse-looks-up a name by its truncated hash,
// as of blockNumber. Returns nil once the name has been revoked (the
// hash index is only meaningful for live, resolvable names).
func (l *Layer) GetNameFromNameHash128(hash128 string, blockNumber int64) (*model.NameRecord, error) {
	row := l.db.QueryRow(`SELECT name, block_number, preorder_hash, name_hash128, namespace_id,
		namespace_block_number, value_hash, sender, sender_pubkey, address, preorder_block_number,
		first_registered, last_renewed, revoked, op, txid, vtxindex, op_fee, importer, importer_address, consensus_hash
		FROM name_records WHERE name_hash128 = ? AND block_number <= ? AND revoked = 0
		ORDER BY block_number DESC LIMIT 1`, hash128, blockNumber)
	r, err := store.ScanNameRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_name_from_name_hash128 %s: %w", hash128, err)
	}
	return &r, nil
}

// GetNameByPreorderHash returns a name by its preorder hash,
// unconstrained by expiry or revocation.
func (l *Layer) GetNameByPreorderHash(preorderHash string) (*model.NameRecord, error) {
	row := l.db.QueryRow(`SELECT name, block_number, preorder_hash, name_hash128, namespace_id,
		namespace_block_number, value_hash, sender, sender_pubkey, address, preorder_block_number,
		first_registered, last_renewed, revoked, op, txid, vtxindex, op_fee, importer, importer_address, consensus_hash
		FROM name_records WHERE preorder_hash = ?`, preorderHash)
	r, err := store.ScanNameRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_name_by_preorder_hash %s: %w", preorderHash, err)
	}
	return &r, nil
}

// GetNamespaceByPreorderHash returns a namespace by its preorder hash,
// unconstrained by expiry.
func (l *Layer) GetNamespaceByPreorderHash(preorderHash string) (*model.Namespace, error) {
	row := l.db.QueryRow(`SELECT namespace_id, block_number, preorder_hash, version, sender, sender_pubkey,
		address, recipient, recipient_address, reveal_block, ready_block, op, op_fee, txid, vtxindex,
		lifetime, coeff, base, buckets, nonalpha_discount, no_vowel_discount
		FROM namespaces WHERE preorder_hash = ?`, preorderHash)
	n, err := store.ScanNamespace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: get_namespace_by_preorder_hash %s: %w", preorderHash, err)
	}
	return &n, nil
}

// History returns the full ordered history for a name or namespace.
func (l *Layer) History(historyID string) ([]model.HistoryEntry, error) {
	return l.j.Fetch(l.db, historyID)
}

// Invalidate drops every cached query result. Called once per
// CommitBlock.
func (l *Layer) Invalidate() {
	if l.cache != nil {
		l.cache.Invalidate()
	}
}
