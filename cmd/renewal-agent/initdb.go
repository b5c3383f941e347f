package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"renewal-agent/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the SQLite schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := envStr("DB_PATH", "chatbot.db")
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("SQLite schema ready at %s\n", dbPath)
		return nil
	},
}
