package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
)

// newIngestCmd creates the 'ingest' subcommand. It reads a JSON array of items and creates
// the day's document when none exists yet.
func newIngestCmd() *cobra.Command {
	var (
		date string
		file string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Creates a day's document from a JSON array of items",
		Long: `Reads a JSON array of {"title","type","url","score","by","time"} objects from
--file (or stdin when the file is "-") and creates the document for --date.
An existing document is never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			key, err := digest.ParseDateKey(date, now())
			if err != nil {
				return err
			}
			items, err := readItems(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			res, err := appInstance.Service().Ingest(cmd.Context(), key, items)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", key, err)
			}
			appInstance.Logger().Info("ingest finished",
				zap.String("date", string(key)),
				zap.Bool("created", res.Created),
				zap.Int("items", res.Items),
			)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "batch date (YYYY-MM-DD, YYYYMMDD, YYMMDD or today); defaults to today")
	cmd.Flags().StringVar(&file, "file", "-", "path to the items JSON, or - for stdin")
	return cmd
}

func readItems(stdin io.Reader, file string) ([]pipeline.IngestItem, error) {
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open items: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var items []pipeline.IngestItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no items to ingest")
	}
	return items, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
