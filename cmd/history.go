package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"xferbench/internal/cli"
	"xferbench/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past suites",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		path, _ := cmd.Flags().GetString("db")
		if path == "" {
			p, err := storage.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}

		store, err := storage.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List(limit)
		if err != nil {
			return err
		}
		cli.PrintHistory(os.Stdout, items)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of suites to show (0 = all)")
	historyCmd.Flags().String("db", "", "history database (default ~/.xferbench/history.db)")
}
