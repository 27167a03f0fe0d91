package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

// newFlushCmd creates the 'flush' subcommand, a one-shot run of the flush gate and merge.
func newFlushCmd() *cobra.Command {
	var (
		date     string
		taskType string
		lang     string
		total    int
	)
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Merges staged results into a day's document",
		Long: `Counts staged keys, and when the count for --type (and --lang) equals --total,
merges them into the document for --date and clears what was merged. Nothing is
written when the counts do not match.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			key, err := digest.ParseDateKey(date, now())
			if err != nil {
				return err
			}
			req := digest.FlushRequest{Total: total}
			if req.Type, err = digest.ParseTaskType(taskType); err != nil {
				return err
			}
			if lang != "" {
				if req.Lang, err = digest.ParseLang(lang); err != nil {
					return err
				}
			}
			if err := req.Validate(); err != nil {
				return err
			}
			res, err := appInstance.Service().Flush(cmd.Context(), key, req)
			if err != nil {
				return fmt.Errorf("flush %s: %w", key, err)
			}
			appInstance.Logger().Info("flush finished",
				zap.String("date", string(key)),
				zap.Bool("can_flush", res.CanFlush),
				zap.Int("flushed", res.Flushed),
			)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "batch date (YYYY-MM-DD, YYYYMMDD, YYMMDD or today); defaults to today")
	cmd.Flags().StringVar(&taskType, "type", "", "task type: fetch, summarize or translate")
	cmd.Flags().StringVar(&lang, "lang", "", "translation language (ko or ja); empty means both")
	cmd.Flags().IntVar(&total, "total", 0, "expected number of staged results")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}
