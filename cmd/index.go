package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mnemo/internal/embedder"
	"mnemo/internal/index"
	"mnemo/internal/store"
	"mnemo/internal/vecindex"
)

var (
	flagForce bool
	flagExts  []string
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a directory of notes for search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}
		if len(flagExts) > 0 {
			cfg.Chunker.Extensions = flagExts
		}

		dbPath := resolveDB(root)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}

		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer st.Close()

		vidx, err := vecindex.OpenSQLite(dbPath, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("open vector index: %w", err)
		}
		defer vidx.Close()

		emb := embedder.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model,
			cfg.Embedding.Timeout(), cfg.Embedding.MaxRetries)

		idx := index.New(st, emb, vidx, index.Config{
			Model:       cfg.Embedding.Model,
			Dimension:   cfg.Embedding.Dimension,
			BatchSize:   cfg.Embedding.BatchSize,
			Concurrency: cfg.Embedding.Concurrency,
			MaxChars:    cfg.Chunker.MaxChars,
			Extensions:  cfg.Chunker.Extensions,
		}, newLogger())

		fmt.Printf("Indexing %s...\n", root)
		start := time.Now()

		stats, err := idx.Index(cmd.Context(), root, flagForce)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		fmt.Printf("\nDone in %s\n", elapsed.Round(time.Millisecond))
		fmt.Printf("  Files:   %d scanned, %d updated, %d skipped, %d refreshed, %d deleted\n",
			stats.FilesScanned, stats.FilesUpdated, stats.FilesSkipped, stats.FilesRefreshed, stats.FilesDeleted)
		fmt.Printf("  Chunks:  %d added, %d reused, %d duplicates folded\n",
			stats.ChunksAdded, stats.ChunksReused, stats.DuplicatesFolded)
		if stats.ChunksFailed > 0 {
			fmt.Printf("  Failed:  %d chunks (will retry next pass)\n", stats.ChunksFailed)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "re-embed everything, ignoring change detection")
	indexCmd.Flags().StringSliceVar(&flagExts, "ext", nil, "file extensions to index (overrides config)")
	rootCmd.AddCommand(indexCmd)
}
