package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/namedb/internal/cache"
	"github.com/ledgerwatch/namedb/internal/history"
	"github.com/ledgerwatch/namedb/internal/opcode"
	"github.com/ledgerwatch/namedb/internal/query"
	"github.com/ledgerwatch/namedb/internal/store"
)

func queryCommand() *cobra.Command {
	var block int64

	root := &cobra.Command{
		Use:   "query",
		Short: "look up state as of a given block",
	}
	root.PersistentFlags().Int64Var(&block, "block", 0, "block number to query as of")

	open := func(path string) (*query.Layer, func(), error) {
		s, err := store.Open(path, log)
		if err != nil {
			return nil, nil, err
		}
		cat := opcode.New()
		j := history.New(cat)
		c, err := cache.New(cacheEntries, int(cachePageBytes))
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return query.New(s.DB, c, j), func() { s.Close() }, nil
	}

	printJSON := func(v interface{}) error {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	nameCmd := &cobra.Command{
		Use:   "name <path> <name>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			rec, err := q.GetName(args[1], block)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	namespaceCmd := &cobra.Command{
		Use:   "namespace <path> <id>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			ns, err := q.GetNamespace(args[1], block)
			if err != nil {
				return err
			}
			return printJSON(ns)
		},
	}

	ownerCmd := &cobra.Command{
		Use:   "owner <path> <address>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			names, err := q.GetNamesOwnedByAddress(args[1], block)
			if err != nil {
				return err
			}
			return printJSON(names)
		},
	}

	senderCmd := &cobra.Command{
		Use:   "sender <path> <sender>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			names, err := q.GetNamesBySender(args[1], block)
			if err != nil {
				return err
			}
			return printJSON(names)
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash <path> <hash128>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			rec, err := q.GetNameFromNameHash128(args[1], block)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <path> <history-id>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			entries, err := q.History(args[1])
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}

	root.AddCommand(nameCmd, namespaceCmd, ownerCmd, senderCmd, hashCmd, historyCmd)
	return root
}
