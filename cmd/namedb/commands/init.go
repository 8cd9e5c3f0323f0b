package commands

import (
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/namedb/internal/store"
)

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "create a fresh state database and apply migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Create(args[0], log)
			if err != nil {
				return err
			}
			defer s.Close()
			log.Info("initialized database", "path", args[0])
			return nil
		},
	}
}
