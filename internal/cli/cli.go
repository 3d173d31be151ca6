// Package cli wires the eures-rank commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eures-rank/internal/domain"
	"eures-rank/internal/ingest"
	"eures-rank/internal/metrics"
	"eures-rank/internal/rank"
	"eures-rank/internal/scheduler"
	"eures-rank/internal/summarizer"
	"eures-rank/internal/textclean"
	"eures-rank/internal/tui"
	"eures-rank/internal/vectorize"
)

const excerptLen = 200

var configFile string

// getenv is swapped in tests.
var getenv = os.Getenv

func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "eures-rank",
		Short:         "Ingest EURES vacancies, embed them and rank them against a query",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default ./config.yaml, then ~/.config/eures-rank/config.yaml)")

	root.AddCommand(
		buildIngestCommand(),
		buildVectorizeCommand(),
		buildRankCommand(),
		buildBrowseCommand(),
		buildListCommand(),
		buildShowCommand(),
		buildStatsCommand(),
		buildAnnotateCommand(),
		buildScheduleCommand(),
	)
	return root
}

func buildIngestCommand() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch vacancies from the listing API into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "ingest")
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.pipeline(a.log).Run(cmd.Context(), a.criteria(), resume)
			printIngestSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the page saved by an interrupted run")
	return cmd
}

func printIngestSummary(w io.Writer, s ingest.Summary) {
	fmt.Fprintf(w, "pages=%d fetched=%d inserted=%d updated=%d duplicates=%d filtered=%d failed=%d\n",
		s.Pages, s.Fetched, s.Inserted, s.Updated, s.Duplicates, s.Filtered, s.Failed)
}

func buildVectorizeCommand() *cobra.Command {
	var (
		opts    vectorize.Options
		workers int
	)
	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Embed stored records that have no embedding yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "vectorize")
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vectorizer(a.log, workers)
			if err != nil {
				return err
			}
			if opts.Limit == 0 {
				opts.Limit = a.cfg.Vectorize.Limit
			}
			sum, err := v.Vectorize(cmd.Context(), opts)
			printVectorizeSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "skip records up to the saved checkpoint")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-embed records that already have an embedding")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records to attempt (0 = all)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent embedding calls (default from config)")
	return cmd
}

func printVectorizeSummary(w io.Writer, s vectorize.Summary) {
	fmt.Fprintf(w, "embedded=%d skipped=%d failed=%d resumed=%t checkpoint=%q\n",
		s.Embedded, s.Skipped, s.Failed, s.Resumed, s.LastID)
}

func buildRankCommand() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "rank <query>",
		Short: "Print stored vacancies ranked by similarity to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "rank")
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.ranker()
			if err != nil {
				return err
			}
			if pageSize <= 0 {
				pageSize = a.cfg.Rank.PageSize
			}
			res, err := svc.Query(cmd.Context(), strings.Join(args, " "), page, pageSize)
			if err != nil {
				return err
			}
			printRanked(cmd.OutOrStdout(), res, a.cfg.Rank.SummarySentences)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "result page, 1-based")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "results per page (default from config)")
	return cmd
}

func printRanked(w io.Writer, p rank.Page, sentences int) {
	sum := summarizer.NewFrequency()
	for i, r := range p.Results {
		pos := (p.Page-1)*p.PageSize + i + 1
		fmt.Fprintf(w, "%3d. %.3f  %s  %s", pos, r.Score, r.Record.ID, r.Record.Title)
		if r.Record.Location != "" {
			fmt.Fprintf(w, " (%s)", r.Record.Location)
		}
		fmt.Fprintln(w)
		excerpt := sum.Summarize(textclean.Text(r.Record.Description), sentences)
		if excerpt != "" {
			fmt.Fprintf(w, "     %s\n", textclean.Truncate(excerpt, excerptLen))
		}
	}
	fmt.Fprintf(w, "page %d/%d, %d ranked records\n", p.Page, p.Pages(), p.Total)
}

func buildBrowseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive ranking browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "browse")
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.ranker()
			if err != nil {
				return err
			}
			st, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			header := fmt.Sprintf("%d records, %d embedded, %d annotated", st.Total, st.Embedded, st.Annotated)
			m := tui.New(cmd.Context(), svc, a.cfg.Rank.PageSize, header)
			_, err = tea.NewProgram(m, tea.WithContext(cmd.Context()), tea.WithAltScreen()).Run()
			return err
		},
	}
}

func buildStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "stats")
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "total:     %d\n", st.Total)
			fmt.Fprintf(w, "embedded:  %d\n", st.Embedded)
			fmt.Fprintf(w, "annotated: %d\n", st.Annotated)
			if st.Annotated > 0 {
				fmt.Fprintf(w, "avg score: %.2f\n", st.AverageScore)
			}
			return nil
		},
	}
}

func buildAnnotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <id> [file]",
		Short: "Store a match annotation (JSON) for a record; reads stdin without a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			ann, err := decodeAnnotation(in)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), configFile, "annotate")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.SetAnnotation(cmd.Context(), args[0], ann); err != nil {
				return fmt.Errorf("annotate %s: %w", args[0], err)
			}
			a.log.Info("annotation stored", zap.String("id", args[0]), zap.Float64("score", ann.Score))
			return nil
		},
	}
}

func decodeAnnotation(r io.Reader) (domain.Annotation, error) {
	var ann domain.Annotation
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ann); err != nil {
		return ann, fmt.Errorf("decode annotation: %w", err)
	}
	return ann, nil
}

func buildScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run ingest then vectorize on the configured cron spec and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, configFile, "schedule")
			if err != nil {
				return err
			}
			defer a.Close()

			go func() {
				a.log.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
				if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.registry); err != nil {
					a.log.Error("metrics server failed", zap.Error(err))
				}
			}()

			s := scheduler.New(a.cfg.Schedule.Spec, a.log,
				scheduler.Step{Name: "ingest", Run: func(ctx context.Context, log *zap.Logger) error {
					_, err := a.pipeline(log).Run(ctx, a.criteria(), true)
					return err
				}},
				scheduler.Step{Name: "vectorize", Run: func(ctx context.Context, log *zap.Logger) error {
					v, err := a.vectorizer(log, 0)
					if err != nil {
						return err
					}
					_, err = v.Vectorize(ctx, vectorize.Options{Resume: true, Limit: a.cfg.Vectorize.Limit})
					return err
				}},
			)
			return s.Run(ctx)
		},
	}
}

// Execute runs the root command with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := BuildCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
