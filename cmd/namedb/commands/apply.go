package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/namedb/internal/cache"
	"github.com/ledgerwatch/namedb/internal/engine"
	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/metrics"
	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/query"
	"github.com/ledgerwatch/namedb/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

// opRecord is the shape the external ingestion driver would hand the
// engine: a decoded opcode, its field payload, and its point in time.
// This is the JSON fixture format `namedb apply` reads, standing in for
// that driver in local testing/operation.
type opRecord struct {
	Opcode       string                 `json:"opcode"`
	Table        string                 `json:"table"`
	HistoryID    string                 `json:"history_id"`
	PreorderHash string                 `json:"preorder_hash"`
	PrimaryKey   string                 `json:"primary_key"`
	Fields       map[string]interface{} `json:"fields"`
	MustEqual    map[string]interface{} `json:"must_equal"`
	BlockID      int64                  `json:"block_id"`
	Vtxindex     int64                  `json:"vtxindex"`
	Txid         string                 `json:"txid"`
}

func applyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <path> <ops.json>",
		Short: "drive a JSON fixture of decoded operations through the engine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(args[0], log)
			if err != nil {
				return err
			}
			defer s.Close()

			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var ops []opRecord
			if err := json.Unmarshal(raw, &ops); err != nil {
				return fmt.Errorf("apply: decode %s: %w", args[1], err)
			}

			cat := opcode.New()
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			c, err := cache.New(cacheEntries, int(cachePageBytes))
			if err != nil {
				return err
			}
			j := history.New(cat)
			q := query.New(s.DB, c, j)
			eng := engine.New(s.DB, cat, log, m)
			eng.OnCommit(func(blockID int64) { q.Invalidate() })

			curBlock := int64(-1)
			for _, op := range ops {
				if op.BlockID != curBlock {
					if curBlock != -1 {
						if err := eng.CommitBlock(); err != nil {
							return err
						}
					}
					if err := eng.BeginBlock(op.BlockID); err != nil {
						return err
					}
					curBlock = op.BlockID
				}
				if err := applyOne(eng, cat, op); err != nil {
					eng.AbortBlock()
					return fmt.Errorf("apply: block %d vtxindex %d: %w", op.BlockID, op.Vtxindex, err)
				}
			}
			if curBlock != -1 {
				if err := eng.CommitBlock(); err != nil {
					return err
				}
			}
			log.Info("applied operations", "count", len(ops))
			return nil
		},
	}
}

func applyOne(eng *engine.Engine, cat *opcode.Catalog, op opRecord) error {
	mop := model.Opcode(op.Opcode)
	isPreorder, err := cat.IsPreorder(mop)
	if err != nil {
		return err
	}
	if isPreorder {
		p := model.Preorder{
			PreorderHash: op.PreorderHash,
			Sender:       str(op.Fields["sender"]),
			Address:      str(op.Fields["address"]),
			BlockNumber:  op.BlockID,
			Op:           mop,
			Txid:         op.Txid,
			Vtxindex:     op.Vtxindex,
		}
		return eng.PreorderAdmit(p, op.Vtxindex)
	}

	isCreation, err := cat.IsCreation(mop)
	if err != nil {
		return err
	}
	isImport, _ := cat.IsImport(mop)
	if isCreation && !isImport {
		return eng.StateCreate(mop, op.Fields, op.Table, op.HistoryID, op.PreorderHash, op.BlockID, op.Vtxindex, op.Txid)
	}
	if isImport {
		return eng.StateCreateAsImport(op.Fields, op.Table, op.HistoryID, nil, op.BlockID, op.Vtxindex, op.Txid)
	}

	// transition: caller supplies must_equal's current values via
	// MustEqual, since the fixture format has no live-row lookup of its
	// own (the real driver would read the current row first).
	var mustEqual []string
	for k := range op.MustEqual {
		mustEqual = append(mustEqual, k)
	}
	curFields := map[string]interface{}{"op": mop}
	for k, v := range op.MustEqual {
		curFields[k] = v
	}
	return eng.StateTransition(mop, op.Table, op.PrimaryKey, op.HistoryID, curFields, op.Fields, nil, nil, op.BlockID, op.Vtxindex, op.Txid)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
