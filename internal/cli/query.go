package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docsearch/internal/app/bootstrap"
	"docsearch/internal/db/memory"
	"docsearch/internal/domain/rag"
	"docsearch/internal/platform/config"
)

var (
	queryDir  string
	queryMode string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query [query]",
	Short: "Rank passages of a directory's documents for a query",
	Long: `Ingests every supported file under --dir into an in-process index and
prints the best matching passages. Hybrid mode combines BM25 keyword scores
with embedding similarity; without an embedder it falls back to keyword.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryDir, "dir", "d", ".", "directory to ingest")
	queryCmd.Flags().StringVarP(&queryMode, "mode", "m", "hybrid", "retrieval mode (keyword, semantic, hybrid)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages (default: configured top_k)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func loadRAGConfig() (*rag.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg.RAG, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadRAGConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng, err := newLocalEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	names, err := ingestDir(ctx, eng, queryDir, cfg.IngestWorkers)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no supported documents under %s", queryDir)
	}

	topK := queryTopK
	if topK == 0 {
		topK = cfg.DefaultTopK
	}
	res, err := eng.Search(ctx, rag.SearchRequest{
		Query: args[0],
		TopK:  topK,
		Mode:  rag.RetrievalMode(strings.ToLower(queryMode)),
	})
	if err != nil {
		return err
	}

	if queryJSON {
		return outputQueryJSON(cmd, names, res)
	}
	return outputQueryText(cmd, names, res)
}

// newLocalEngine builds an engine with an unbounded in-process cache and
// no status sinks.
func newLocalEngine(cfg *rag.Config) (*rag.Engine, error) {
	embedder, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	cache := rag.NewTextCache(nil, memory.NewLRUStore(0), cfg.CacheTTLDuration())
	return rag.NewEngine(cfg, rag.EngineDeps{
		Cache:    cache,
		Embedder: embedder,
		Decoders: bootstrap.NewDecoders(cfg),
	})
}

// ingestDir ingests files with a known extension and returns the relative
// path of each extracted document by id. Files that fail are reported on
// stderr and skipped.
func ingestDir(ctx context.Context, eng *rag.Engine, dir string, workers int) (map[string]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if rag.KindFromFilename(path) != "" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	var mu sync.Mutex
	names := make(map[string]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			doc, err := eng.Ingest(gctx, data, rag.KindFromFilename(path))
			if err != nil {
				if errors.Is(err, rag.ErrExtractionFailed) || errors.Is(err, rag.ErrUnsupportedFormat) {
					fmt.Fprintf(os.Stderr, "skipped %s: %v\n", path, err)
					return nil
				}
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = path
			}
			mu.Lock()
			names[doc.ID] = rel
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

type queryHit struct {
	File    string  `json:"file"`
	Chunk   int     `json:"chunk"`
	Start   int     `json:"start_offset"`
	End     int     `json:"end_offset"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

func toHits(names map[string]string, res *rag.SearchResult) []queryHit {
	hits := make([]queryHit, 0, len(res.Results))
	for _, r := range res.Results {
		hits = append(hits, queryHit{
			File:    names[r.DocumentID],
			Chunk:   r.Chunk.Sequence,
			Start:   r.Chunk.StartOffset,
			End:     r.Chunk.EndOffset,
			Score:   r.Score,
			Snippet: r.Snippet,
		})
	}
	return hits
}

func outputQueryJSON(cmd *cobra.Command, names map[string]string, res *rag.SearchResult) error {
	data, err := json.MarshalIndent(map[string]any{
		"mode":    res.Mode,
		"results": toHits(names, res),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func outputQueryText(cmd *cobra.Command, names map[string]string, res *rag.SearchResult) error {
	out := cmd.OutOrStdout()
	hits := toHits(names, res)
	if len(hits) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Results (%s):\n\n", res.Mode)
	for i, h := range hits {
		fmt.Fprintf(out, "  [%d] %s #%d (%.3f)\n", i+1, h.File, h.Chunk, h.Score)
		fmt.Fprintf(out, "      %s\n\n", strings.Join(strings.Fields(h.Snippet), " "))
	}
	return nil
}
