// Package commands wires the namedb CLI: init, apply, serve and query,
// mirroring the teacher's cobra root-command-plus-subcommands shape.
package commands

import (
	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/namedb/internal/logger"
)

var log = logger.New("module", "namedb")

// cacheEntries sizes the decoded-entry LRU; cachePageBytes sizes the
// serialized-page byte-cache (component C8). Both are persistent flags
// so operators can tune them without a rebuild.
var (
	cacheEntries   int
	cachePageBytes int64
)

const defaultCachePageBytes = int64(64 * datasize.MB)

// RootCommand builds the namedb cobra command tree.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "namedb",
		Short: "name-and-namespace state database",
	}
	root.PersistentFlags().IntVar(&cacheEntries, "cache-entries", 4096, "read-through cache: decoded-entry LRU size")
	root.PersistentFlags().Int64Var(&cachePageBytes, "cache-page-bytes", defaultCachePageBytes, "read-through cache: serialized-page byte budget")

	root.AddCommand(initCommand())
	root.AddCommand(applyCommand())
	root.AddCommand(serveCommand())
	root.AddCommand(queryCommand())
	return root
}
