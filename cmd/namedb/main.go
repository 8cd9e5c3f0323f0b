package main

import (
	"os"

	"github.com/ledgerwatch/namedb/cmd/namedb/commands"
)

func main() {
	if err := commands.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
