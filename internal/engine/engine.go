// Package engine implements the state-machine engine (component C5):
// the sole writer of the database, exposing the five operations that
// turn decoded naming-system operations into durable state plus
// history, and the block-boundary contract every write happens inside.
package engine

import (
	"database/sql"
	"fmt"

	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/metrics"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/recordops"
	"github.com/ledgerwatch/namedb/internal/store"
)

// Engine is the single writer. It is not safe for concurrent use: the
// concurrency model is a single cooperative writer, one logical
// transaction per block.
type Engine struct {
	db  *sql.DB
	cat *opcode.Catalog
	j   *history.Journal
	log logger.Logger
	m   *metrics.Metrics

	tx           *sql.Tx
	blockID      int64
	lastBlockID  int64
	lastVtx      int64
	aborted      bool
	onCommit     func(blockID int64)

	// cursor position when the open block began, restored by AbortBlock
	startBlockID int64
	startVtx     int64
}

// New constructs an Engine against db, writing history through cat.
func New(db *sql.DB, cat *opcode.Catalog, log logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		db:          db,
		cat:         cat,
		j:           history.New(cat),
		log:         log,
		m:           m,
		lastBlockID: -1,
		lastVtx:     -1,
	}
}

// OnCommit registers a hook invoked synchronously at the end of every
// successful CommitBlock, after the SQL transaction commits. The apply
// command registers one that invalidates the read-through cache.
func (e *Engine) OnCommit(fn func(blockID int64)) {
	e.onCommit = fn
}

// BeginBlock opens the one logical transaction for blockID. All writer
// calls until CommitBlock/AbortBlock share it.
func (e *Engine) BeginBlock(blockID int64) error {
	if e.aborted {
		return ErrBlockAborted{}
	}
	if e.tx != nil {
		return fmt.Errorf("engine: block %d already open", e.blockID)
	}
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("engine: begin block %d: %w", blockID, err)
	}
	e.tx = tx
	e.blockID = blockID
	e.startBlockID, e.startVtx = e.lastBlockID, e.lastVtx
	return nil
}

// CommitBlock commits the open transaction, advances the block-height
// metric, and fires the registered commit hook.
func (e *Engine) CommitBlock() error {
	if e.tx == nil {
		return ErrNoOpenBlock{}
	}
	if err := e.tx.Commit(); err != nil {
		e.tx = nil
		e.aborted = true
		return fmt.Errorf("engine: commit block %d: %w", e.blockID, err)
	}
	blockID := e.blockID
	e.tx = nil
	if e.m != nil {
		e.m.BlockHeight.Set(float64(blockID))
	}
	if e.onCommit != nil {
		e.onCommit(blockID)
	}
	return nil
}

// AbortBlock rolls the open transaction back wholly. Per the error
// model, an aborted block is never partially applied, and the monotonic
// cursor is not advanced past anything this block touched.
func (e *Engine) AbortBlock() error {
	if e.tx == nil {
		return ErrNoOpenBlock{}
	}
	err := e.tx.Rollback()
	e.tx = nil
	e.aborted = true
	e.lastBlockID, e.lastVtx = e.startBlockID, e.startVtx
	if err != nil {
		return fmt.Errorf("engine: abort block %d: %w", e.blockID, err)
	}
	return nil
}

// Reset clears the aborted-refusing-writes state, for operator
// intervention after investigating a fatal invariant violation.
func (e *Engine) Reset() {
	e.aborted = false
}

func (e *Engine) checkSequence(blockID, vtxindex int64) error {
	if e.aborted {
		return ErrBlockAborted{}
	}
	if e.tx == nil {
		return ErrNoOpenBlock{}
	}
	if blockID < e.lastBlockID || (blockID == e.lastBlockID && vtxindex <= e.lastVtx) {
		return ErrNonMonotonic{LastBlock: e.lastBlockID, LastVtx: e.lastVtx, BlockID: blockID, Vtxindex: vtxindex}
	}
	return nil
}

func (e *Engine) advance(blockID, vtxindex int64) {
	e.lastBlockID = blockID
	e.lastVtx = vtxindex
}

// reject counts a refused operation and aborts the open block, if any:
// its transaction is rolled back and the engine refuses further writes
// until Reset.
func (e *Engine) reject(reason string) {
	if e.m != nil {
		e.m.OpsRejected.WithLabelValues(reason).Inc()
	}
	if e.tx != nil {
		e.AbortBlock()
	}
}

func (e *Engine) applied(op model.Opcode) {
	if e.m != nil {
		e.m.OpsApplied.WithLabelValues(string(op)).Inc()
	}
}

// PreorderAdmit records a preorder commitment, to be consumed later by
// a matching StateCreate/StateCreateAsImport.
func (e *Engine) PreorderAdmit(p model.Preorder, vtxindex int64) error {
	if err := e.checkSequence(p.BlockNumber, vtxindex); err != nil {
		e.reject("non_monotonic")
		return err
	}
	if err := recordops.Insert(e.tx, store.PreordersTable, store.PreorderFields(p)); err != nil {
		e.reject("preorder_insert_failed")
		return err
	}
	e.advance(p.BlockNumber, vtxindex)
	e.applied(p.Op)
	if e.m != nil {
		e.m.OutstandingPreorders.Inc()
	}
	return nil
}

// StateCreate admits a name or namespace for the first time, consuming
// its matching preorder and recording the preorder as history. Valid
// only for REGISTER/NAMESPACE_REVEAL-class opcodes; NAME_IMPORT uses
// StateCreateAsImport instead.
func (e *Engine) StateCreate(op model.Opcode, fields map[string]interface{}, table, historyID, preorderHash string, blockID, vtxindex int64, txid string) error {
	if err := e.checkSequence(blockID, vtxindex); err != nil {
		e.reject("non_monotonic")
		return err
	}
	isCreation, err := e.cat.IsCreation(op)
	if err != nil {
		e.reject("unknown_opcode")
		return err
	}
	isImport, _ := e.cat.IsImport(op)
	if !isCreation || isImport {
		e.reject("not_a_creation_op")
		return fmt.Errorf("engine: opcode %s is not a state-creation operation", op)
	}
	isNamespaceOp, err := e.cat.IsNamespaceOp(op)
	if err != nil {
		e.reject("unknown_opcode")
		return err
	}
	wantTable := store.NameRecordsTable
	if isNamespaceOp {
		wantTable = store.NamespacesTable
	}
	if table != wantTable {
		e.reject("table_entity_mismatch")
		return ErrEntityMismatch{Op: op, Detail: fmt.Sprintf("creates %s rows, got table %q", wantTable, table)}
	}

	var preorderRow *sql.Row
	preorderRow = e.tx.QueryRow(`SELECT preorder_hash, consensus_hash, sender, sender_pubkey, address, block_number, op, op_fee, txid, vtxindex FROM preorders WHERE preorder_hash = ?`, preorderHash)
	preorder, err := store.ScanPreorder(preorderRow)
	if err != nil {
		e.reject("missing_preorder")
		return ErrMissingPreorder{PreorderHash: preorderHash}
	}
	preIsPreorder, err := e.cat.IsPreorder(preorder.Op)
	if err != nil {
		e.reject("unknown_opcode")
		return err
	}
	preIsNamespace, err := e.cat.IsNamespaceOp(preorder.Op)
	if err != nil {
		e.reject("unknown_opcode")
		return err
	}
	if !preIsPreorder || preIsNamespace != isNamespaceOp {
		e.reject("preorder_class_mismatch")
		return ErrEntityMismatch{Op: op, Detail: fmt.Sprintf("preorder %s carries opcode %s, not a matching preorder", preorderHash, preorder.Op)}
	}

	preRecord := map[string]interface{}{"op": preorder.Op, "preorder_hash": preorder.PreorderHash}
	for k, v := range store.PreorderFields(preorder) {
		preRecord[k] = v
	}
	// The preorder is not a consensus-bearing entity state, so its
	// consumption is always recorded as a snapshot rather than a delta
	// projected through the created opcode's backup fields.
	if err := e.j.Save(e.tx, op, historyID, blockID, vtxindex, txid, preRecord, true); err != nil {
		e.reject("history_save_failed")
		return err
	}

	if err := recordops.Insert(e.tx, table, fields); err != nil {
		e.reject("insert_failed")
		return err
	}

	if err := recordops.Delete(e.tx, store.PreordersTable, "preorder_hash", preorderHash); err != nil {
		e.reject("preorder_remove_failed")
		return err
	}

	e.advance(blockID, vtxindex)
	e.applied(op)
	if e.m != nil {
		e.m.OutstandingPreorders.Dec()
	}
	return nil
}

// StateTransition mutates an existing name or namespace in place,
// checking the opcode sequence graph, writing a delta history entry,
// and updating the record via the must_equal=(non-mutate fields ∪ PK)
// discipline (optionally narrowed by onlyIf, and with ignoredConstraints
// excluded from must_equal, mirroring constraints_ignored).
func (e *Engine) StateTransition(op model.Opcode, table, primaryKey, historyID string, curFields map[string]interface{}, mutateValues, onlyIf map[string]interface{}, ignoredConstraints []string, blockID, vtxindex int64, txid string) error {
	if err := e.checkSequence(blockID, vtxindex); err != nil {
		e.reject("non_monotonic")
		return err
	}
	curOp := model.OpcodeOf(curFields)
	allowed, err := e.cat.AllowedNext(curOp, op)
	if err != nil {
		e.reject("unknown_opcode")
		return err
	}
	if !allowed {
		e.reject("illegal_transition")
		return ErrIllegalTransition{From: curOp, To: op}
	}

	if err := e.j.Save(e.tx, op, historyID, blockID, vtxindex, txid, curFields, false); err != nil {
		e.reject("history_save_failed")
		return err
	}

	ignored := make(map[string]bool, len(ignoredConstraints))
	for _, c := range ignoredConstraints {
		ignored[c] = true
	}
	var mustEqual []string
	for k := range curFields {
		if _, changing := mutateValues[k]; changing {
			continue
		}
		if ignored[k] {
			continue
		}
		mustEqual = append(mustEqual, k)
	}
	if !containsStr(mustEqual, primaryKey) {
		mustEqual = append(mustEqual, primaryKey)
	}

	if err := recordops.Update(e.tx, table, primaryKey, mutateValues, mustEqual, curFields, onlyIf); err != nil {
		e.reject("update_failed")
		return err
	}

	e.advance(blockID, vtxindex)
	e.applied(op)
	return nil
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// StateCreateAsImport admits a NAME_IMPORT, bypassing the preorder
// flow. If priorImport is nil, this is the name's first incarnation and
// the full record is both inserted and snapshotted to history. If
// priorImport is non-nil, it must strictly precede (blockID, vtxindex)
// and is itself what gets snapshotted to history, while the row is
// updated rather than inserted.
func (e *Engine) StateCreateAsImport(fields map[string]interface{}, table, historyID string, priorImport *model.NameRecord, blockID, vtxindex int64, txid string) error {
	if err := e.checkSequence(blockID, vtxindex); err != nil {
		e.reject("non_monotonic")
		return err
	}
	if priorImport != nil {
		if !(priorImport.BlockNumber < blockID || (priorImport.BlockNumber == blockID && priorImport.Vtxindex < vtxindex)) {
			e.reject("prior_import_out_of_order")
			return fmt.Errorf("engine: prior_import (%d,%d) does not precede (%d,%d)",
				priorImport.BlockNumber, priorImport.Vtxindex, blockID, vtxindex)
		}
	}

	if priorImport == nil {
		snapshot := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			snapshot[k] = v
		}
		snapshot["history_snapshot"] = true
		if err := e.j.Save(e.tx, model.NameImport, historyID, blockID, vtxindex, txid, snapshot, true); err != nil {
			e.reject("history_save_failed")
			return err
		}
		if err := recordops.Insert(e.tx, table, fields); err != nil {
			e.reject("insert_failed")
			return err
		}
	} else {
		priorFields := store.NameRecordFields(*priorImport)
		if err := e.j.Save(e.tx, model.NameImport, historyID, blockID, vtxindex, txid, priorFields, false); err != nil {
			e.reject("history_save_failed")
			return err
		}
		var mustEqual []string
		for k := range priorFields {
			if _, changing := fields[k]; !changing {
				mustEqual = append(mustEqual, k)
			}
		}
		if !containsStr(mustEqual, "name") {
			mustEqual = append(mustEqual, "name")
		}
		if err := recordops.Update(e.tx, table, "name", fields, mustEqual, priorFields, nil); err != nil {
			e.reject("update_failed")
			return err
		}
	}

	e.advance(blockID, vtxindex)
	e.applied(model.NameImport)
	return nil
}

// StateCreateFromPriorHistory re-creates a name or namespace after it
// expired, using the last snapshot in its own prior history rather than
// a preorder. The re-creation is itself stored as two history entries:
// the prior snapshot re-filed at the preorder's (block, vtxindex, txid),
// and the preorder itself at the current point in time. The record is
// updated (a prior incarnation's row already exists), not inserted.
func (e *Engine) StateCreateFromPriorHistory(op model.Opcode, table, primaryKey, historyID string, fields map[string]interface{}, priorHistory map[int64][]model.HistoryEntry, preorder model.Preorder, blockID, vtxindex int64, txid string) error {
	if err := e.checkSequence(blockID, vtxindex); err != nil {
		e.reject("non_monotonic")
		return err
	}
	entries, ok := priorHistory[preorder.BlockNumber]
	if !ok || len(entries) == 0 {
		e.reject("missing_history_snapshot")
		return fmt.Errorf("engine: no history at block %d for %s", preorder.BlockNumber, historyID)
	}
	last := entries[len(entries)-1]
	if !last.IsSnapshot() {
		e.reject("last_history_not_snapshot")
		return fmt.Errorf("engine: last history entry for %s at block %d is not a snapshot", historyID, preorder.BlockNumber)
	}

	if err := e.j.Save(e.tx, op, historyID, preorder.BlockNumber, preorder.Vtxindex, preorder.Txid, last.HistoryData, true); err != nil {
		e.reject("history_save_failed")
		return err
	}
	// Like StateCreate, the preorder being re-consumed here carries no
	// consensus fields of its own, so it is always a snapshot entry.
	preRecord := store.PreorderFields(preorder)
	if err := e.j.Save(e.tx, op, historyID, blockID, vtxindex, txid, preRecord, true); err != nil {
		e.reject("history_save_failed")
		return err
	}

	var mustEqual []string
	for k := range last.HistoryData {
		if k == "history_snapshot" {
			continue
		}
		if _, changing := fields[k]; !changing {
			mustEqual = append(mustEqual, k)
		}
	}
	if !containsStr(mustEqual, primaryKey) {
		mustEqual = append(mustEqual, primaryKey)
	}
	if err := recordops.Update(e.tx, table, primaryKey, fields, mustEqual, last.HistoryData, nil); err != nil {
		e.reject("update_failed")
		return err
	}

	e.advance(blockID, vtxindex)
	e.applied(op)
	return nil
}
