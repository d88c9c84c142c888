package main

import (
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Gazetteer snapshot lifecycle",
	Long:  "Builds SQLite gazetteer snapshots from the PostGIS authority and reports on the published snapshot's health.",
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
