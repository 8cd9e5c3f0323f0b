// Package replay implements historical replay (component C7):
// reconstructing the sequence of states a name or namespace passed
// through at a given block, and enumerating every record touched by a
// block.
package replay

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/store"
)

// Replayer reconstructs past states from the history journal.
type Replayer struct {
	db *sql.DB
	j  *history.Journal
}

// New constructs a Replayer.
func New(db *sql.DB, j *history.Journal) *Replayer {
	return &Replayer{db: db, j: j}
}

// RestoreAt walks liveFields (the entity's current consensus-field
// state, as a plain map so it works for either name_records or
// namespaces) and its full history backward to blockID, returning every
// intermediate state the entity held during that block, ascending by
// vtxindex. liveBlockNumber is liveFields["block_number"].
//
// This follows the original ten-ish step algorithm: seed from the live
// record, walk blocks in descending order, never overwrite
// block_number except when a snapshot entry supplies a wholly new
// state, and collect every intermediate state generated within blockID
// itself before returning them oldest-first.
func (r *Replayer) RestoreAt(historyID string, liveFields map[string]interface{}, liveBlockNumber int64, blockID int64) ([]map[string]interface{}, error) {
	historical := cloneMap(liveFields)

	touched, err := history.TouchedBlocks(r.db, historyID)
	if err != nil {
		return nil, fmt.Errorf("replay: restore_at %s: %w", historyID, err)
	}
	if touched.IsEmpty() {
		if !isSnapshotPayload(historical) {
			return nil, fmt.Errorf("replay: %s has no history and is not a complete snapshot", historyID)
		}
		return []map[string]interface{}{historical}, nil
	}
	if blockID > int64(touched.Maximum()) {
		// Nothing touched this entity after blockID: the live record is
		// already its state as of blockID, so skip straight past the
		// decode/decompress pass over every history_data row below.
		return []map[string]interface{}{historical}, nil
	}

	entries, err := r.j.Fetch(r.db, historyID)
	if err != nil {
		return nil, fmt.Errorf("replay: restore_at %s: %w", historyID, err)
	}

	byBlock := map[int64][]model.HistoryEntry{}
	var blocksDesc []int64
	for _, e := range entries {
		if _, ok := byBlock[e.BlockID]; !ok {
			blocksDesc = append(blocksDesc, e.BlockID)
		}
		byBlock[e.BlockID] = append(byBlock[e.BlockID], e)
	}
	sort.Slice(blocksDesc, func(i, j int) bool { return blocksDesc[i] > blocksDesc[j] })

	if len(blocksDesc) == 0 {
		if !isSnapshotPayload(historical) {
			return nil, fmt.Errorf("replay: %s has no history and is not a complete snapshot", historyID)
		}
		return []map[string]interface{}{historical}, nil
	}

	if blockID > blocksDesc[0] {
		return []map[string]interface{}{historical}, nil
	}
	if blockID < liveBlockNumber {
		return nil, nil
	}

	lastBlockIdx := len(blocksDesc)
	for i, b := range blocksDesc {
		if blockID >= b {
			lastBlockIdx = i
			break
		}
	}

	i := 0
	for i < lastBlockIdx {
		diffs := reverseEntries(byBlock[blocksDesc[i]])
		for _, diff := range diffs {
			applyDiff(&historical, diff.HistoryData)
		}
		i++
	}

	updates := []map[string]interface{}{cloneMap(historical)}
	if i < len(blocksDesc) {
		diffs := reverseEntries(byBlock[blocksDesc[i]])
		if len(diffs) > 1 {
			for _, diff := range diffs[:len(diffs)-1] {
				applyDiff(&historical, diff.HistoryData)
				updates = append(updates, cloneMap(historical))
			}
		}
	}

	reversed := make([]map[string]interface{}, len(updates))
	for i, u := range updates {
		reversed[len(updates)-1-i] = u
	}
	return reversed, nil
}

func reverseEntries(entries []model.HistoryEntry) []model.HistoryEntry {
	out := make([]model.HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func applyDiff(cur *map[string]interface{}, diff map[string]interface{}) {
	if isSnapshotPayload(diff) {
		fresh := make(map[string]interface{}, len(diff))
		for k, v := range diff {
			if k == "history_snapshot" {
				continue
			}
			fresh[k] = v
		}
		*cur = fresh
		return
	}
	delta := make(map[string]interface{}, len(diff))
	for k, v := range diff {
		if k == "block_number" {
			continue
		}
		delta[k] = v
	}
	for k, v := range delta {
		(*cur)[k] = v
	}
}

func isSnapshotPayload(m map[string]interface{}) bool {
	v, ok := m["history_snapshot"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const (
	nameRecordColumnsSQL = `name_records.name, name_records.block_number, name_records.preorder_hash,
		name_records.name_hash128, name_records.namespace_id, name_records.namespace_block_number,
		name_records.value_hash, name_records.sender, name_records.sender_pubkey, name_records.address,
		name_records.preorder_block_number, name_records.first_registered, name_records.last_renewed,
		name_records.revoked, name_records.op, name_records.txid, name_records.vtxindex, name_records.op_fee,
		name_records.importer, name_records.importer_address, name_records.consensus_hash`

	namespaceColumnsSQL = `namespaces.namespace_id, namespaces.block_number, namespaces.preorder_hash,
		namespaces.version, namespaces.sender, namespaces.sender_pubkey, namespaces.address,
		namespaces.recipient, namespaces.recipient_address, namespaces.reveal_block, namespaces.ready_block,
		namespaces.op, namespaces.op_fee, namespaces.txid, namespaces.vtxindex, namespaces.lifetime,
		namespaces.coeff, namespaces.base, namespaces.buckets, namespaces.nonalpha_discount,
		namespaces.no_vowel_discount`
)

// GetAllRecordsAt returns every state a name, namespace, or outstanding
// preorder passed through at blockID, ascending by vtxindex, matching
// namedb_get_all_records_at: name/namespace rows first preordered or
// created at blockID, name/namespace rows carrying a history entry filed
// at blockID (restored back to their state as of blockID), outstanding
// preorders created at blockID, and namespace reveal/ready states
// touched at blockID.
func (r *Replayer) GetAllRecordsAt(blockID int64) ([]map[string]interface{}, error) {
	var ret []map[string]interface{}

	namePreorderRows, err := r.db.Query(
		`SELECT `+nameRecordColumnsSQL+` FROM name_records
		 WHERE name_records.block_number = ? OR name_records.preorder_block_number = ?`,
		blockID, blockID)
	if err != nil {
		return nil, fmt.Errorf("replay: all_records_at %d: name preorders: %w", blockID, err)
	}
	states, err := r.restoreNameRows(namePreorderRows, blockID)
	if err != nil {
		return nil, err
	}
	ret = append(ret, states...)

	nameChangeRows, err := r.db.Query(
		`SELECT `+nameRecordColumnsSQL+` FROM name_records JOIN history
		 ON name_records.name = history.history_id
		 WHERE name_records.block_number < ? AND name_records.preorder_block_number != ? AND history.block_id = ?
		 GROUP BY name_records.name`,
		blockID, blockID, blockID)
	if err != nil {
		return nil, fmt.Errorf("replay: all_records_at %d: name changes: %w", blockID, err)
	}
	states, err = r.restoreNameRows(nameChangeRows, blockID)
	if err != nil {
		return nil, err
	}
	ret = append(ret, states...)

	preorderRows, err := r.db.Query(
		`SELECT preorder_hash, consensus_hash, sender, sender_pubkey, address, block_number, op, op_fee, txid, vtxindex
		 FROM preorders WHERE block_number = ?`, blockID)
	if err != nil {
		return nil, fmt.Errorf("replay: all_records_at %d: outstanding preorders: %w", blockID, err)
	}
	preorderStates, err := scanOutstandingPreorders(preorderRows)
	if err != nil {
		return nil, err
	}
	ret = append(ret, preorderStates...)

	namespacePreorderRows, err := r.db.Query(
		`SELECT `+namespaceColumnsSQL+` FROM namespaces WHERE namespaces.block_number = ?`, blockID)
	if err != nil {
		return nil, fmt.Errorf("replay: all_records_at %d: namespace preorders: %w", blockID, err)
	}
	states, err = r.restoreNamespaceRows(namespacePreorderRows, blockID)
	if err != nil {
		return nil, err
	}
	ret = append(ret, states...)

	// Unlike the name-change query above, this deliberately uses <= rather
	// than < against block_number: a namespace revealed for the first
	// time at blockID is returned here too, in addition to the
	// namespace-preorder query above, matching namedb_get_all_records_at.
	namespaceChangeRows, err := r.db.Query(
		`SELECT `+namespaceColumnsSQL+` FROM namespaces JOIN history
		 ON namespaces.namespace_id = history.history_id
		 WHERE namespaces.block_number <= ? AND history.block_id = ? AND (namespaces.op = ? OR namespaces.op = ?)`,
		blockID, blockID, string(model.NamespaceReveal), string(model.NamespaceReady))
	if err != nil {
		return nil, fmt.Errorf("replay: all_records_at %d: namespace changes: %w", blockID, err)
	}
	states, err = r.restoreNamespaceRows(namespaceChangeRows, blockID)
	if err != nil {
		return nil, err
	}
	ret = append(ret, states...)

	sort.SliceStable(ret, func(i, j int) bool { return vtxindexOf(ret[i]) < vtxindexOf(ret[j]) })
	return ret, nil
}

// restoreNameRows restores each name_records row in rows back to its
// state as of blockID via RestoreAt, flattening every intermediate state
// returned for each row into a single list (rows.Close'd on return).
func (r *Replayer) restoreNameRows(rows *sql.Rows, blockID int64) ([]map[string]interface{}, error) {
	defer rows.Close()
	var out []map[string]interface{}
	for rows.Next() {
		rec, err := store.ScanNameRecord(rows)
		if err != nil {
			return nil, err
		}
		states, err := r.RestoreAt(rec.Name, store.NameRecordFields(rec), rec.BlockNumber, blockID)
		if err != nil {
			return nil, err
		}
		out = append(out, states...)
	}
	return out, rows.Err()
}

func (r *Replayer) restoreNamespaceRows(rows *sql.Rows, blockID int64) ([]map[string]interface{}, error) {
	defer rows.Close()
	var out []map[string]interface{}
	for rows.Next() {
		ns, err := store.ScanNamespace(rows)
		if err != nil {
			return nil, err
		}
		fields, err := store.NamespaceFields(ns)
		if err != nil {
			return nil, err
		}
		states, err := r.RestoreAt(ns.NamespaceID, fields, ns.BlockNumber, blockID)
		if err != nil {
			return nil, err
		}
		out = append(out, states...)
	}
	return out, rows.Err()
}

func scanOutstandingPreorders(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()
	var out []map[string]interface{}
	for rows.Next() {
		p, err := store.ScanPreorder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, store.PreorderFields(p))
	}
	return out, rows.Err()
}

func vtxindexOf(m map[string]interface{}) int64 {
	switch v := m["vtxindex"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
