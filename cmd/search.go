package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mnemo/internal/config"
	"mnemo/internal/embedder"
	"mnemo/internal/query"
	"mnemo/internal/store"
	"mnemo/internal/vecindex"
)

var (
	flagTop  int
	flagJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, closer, err := openEngine()
		if err != nil {
			return err
		}
		defer closer()

		results, err := eng.Search(cmd.Context(), args[0], flagTop)
		if err != nil {
			if errors.Is(err, vecindex.ErrUnavailable) {
				return fmt.Errorf("%w\nRun 'mnemo index <path>' to rebuild it", err)
			}
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if results == nil {
				results = []query.Result{}
			}
			return enc.Encode(results)
		}

		if len(results) == 0 {
			fmt.Println("No content indexed yet, or nothing matched.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("━━━ Result %d (similarity: %.3f) ━━━\n", i+1, r.Score)
			fmt.Printf("%s:%d-%d\n\n", r.Path, r.StartLine, r.EndLine)
			fmt.Println(r.Text)
			fmt.Println()
		}
		return nil
	},
}

// openEngine wires a query engine over the current working directory's index.
// The returned closer releases the store and vector index.
func openEngine() (*query.Engine, *store.SQLiteStore, func(), error) {
	dbPath, err := requireDB()
	if err != nil {
		return nil, nil, nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig(wd)
	if err != nil {
		return nil, nil, nil, err
	}
	return openEngineAt(dbPath, cfg)
}

func openEngineAt(dbPath string, cfg *config.Config) (*query.Engine, *store.SQLiteStore, func(), error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open index: %w", err)
	}
	vidx, err := vecindex.OpenSQLite(dbPath, cfg.Embedding.Dimension)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("open vector index: %w", err)
	}
	emb := embedder.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model,
		cfg.Embedding.Timeout(), cfg.Embedding.MaxRetries)

	eng := query.New(st, emb, vidx, cfg.Query, cfg.Embedding.Dimension, newLogger())
	closer := func() {
		vidx.Close()
		st.Close()
	}
	return eng, st, closer, nil
}

func init() {
	searchCmd.Flags().IntVar(&flagTop, "top", 5, "number of results to return")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "emit machine-readable JSON to stdout")
	rootCmd.AddCommand(searchCmd)
}
