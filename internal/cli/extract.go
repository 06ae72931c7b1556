package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docsearch/internal/app/bootstrap"
	"docsearch/internal/domain/rag"
)

var (
	extractKind string
	extractJSON bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Print the normalized text of a file",
	Long: `Extracts and normalizes the text of one file, exactly as ingestion
would cache it. The kind is taken from --kind, then the file extension, then
the content itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractKind, "kind", "k", "", "media kind, extension or MIME type (default: detect)")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "output text and metadata as JSON")
	rootCmd.AddCommand(extractCmd)
}

type extractOutput struct {
	File  string        `json:"file"`
	Kind  rag.MediaKind `json:"kind"`
	Bytes int           `json:"bytes"`
	Pages int           `json:"pages,omitempty"`
	Text  string        `json:"text"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	declared := extractKind
	if declared == "" {
		declared = filepath.Ext(path)
	}
	kind, err := rag.ParseMediaKind(declared, data)
	if err != nil && extractKind == "" {
		// Unknown extension; let the content decide.
		kind, err = rag.SniffMediaKind(data)
	}
	if err != nil {
		return err
	}

	cfg, err := loadRAGConfig()
	if err != nil {
		return err
	}
	extractor := rag.NewExtractor()
	for _, d := range bootstrap.NewDecoders(cfg) {
		extractor.Register(d)
	}

	res, err := extractor.ExtractDocument(context.Background(), data, kind)
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}

	if extractJSON {
		out, err := json.MarshalIndent(extractOutput{
			File:  path,
			Kind:  kind,
			Bytes: len(data),
			Pages: res.Pages,
			Text:  res.Text,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}
