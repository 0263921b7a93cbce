package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mnemo/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := requireDB()
		if err != nil {
			return err
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer st.Close()

		stats, err := st.Stats()
		if err != nil {
			return err
		}
		model, err := st.GetMeta("embedding_model")
		if err != nil {
			return err
		}

		fmt.Printf("Index: %s\n", dbPath)
		fmt.Printf("  Files:   %d\n", stats.Files)
		fmt.Printf("  Chunks:  %d\n", stats.Chunks)
		fmt.Printf("  Aliases: %d\n", stats.Aliases)
		if model != "" {
			fmt.Printf("  Model:   %s\n", model)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
