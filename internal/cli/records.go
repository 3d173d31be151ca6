package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"eures-rank/internal/domain"
	"eures-rank/internal/textclean"
)

const listChunk = 500

func buildListCommand() *cobra.Command {
	var (
		page, pageSize int
		query, sortBy  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored vacancies, optionally filtered and sorted by annotation score",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sortBy != "id" && sortBy != "score" {
				return fmt.Errorf("unknown sort %q (want id or score)", sortBy)
			}
			a, err := openApp(cmd.Context(), configFile, "list")
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := listRecords(cmd.Context(), a.store, query)
			if err != nil {
				return err
			}
			if sortBy == "score" {
				sortByScore(recs)
			}
			if pageSize <= 0 {
				pageSize = a.cfg.Rank.PageSize
			}
			printList(cmd.OutOrStdout(), recs, page, pageSize)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "result page, 1-based")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per page (default from config)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive filter on id, title, location and justification")
	cmd.Flags().StringVar(&sortBy, "sort", "id", "order: id or score (annotated first, highest score first)")
	return cmd
}

// listRecords reads the whole store in ID order and keeps records matching q.
func listRecords(ctx context.Context, store domain.JobStore, q string) ([]domain.JobRecord, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	var out []domain.JobRecord
	for offset := 0; ; offset += listChunk {
		recs, err := store.List(ctx, offset, listChunk)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		for _, rec := range recs {
			if q == "" || matches(rec, q) {
				out = append(out, rec)
			}
		}
		if len(recs) < listChunk {
			return out, nil
		}
	}
}

func matches(rec domain.JobRecord, q string) bool {
	fields := []string{rec.ID, rec.Title, rec.Location}
	if rec.Annotation != nil {
		fields = append(fields, rec.Annotation.Justification)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// sortByScore puts annotated records first by descending score; ties and
// unannotated records keep ID order.
func sortByScore(recs []domain.JobRecord) {
	slices.SortStableFunc(recs, func(a, b domain.JobRecord) int {
		switch {
		case a.Annotation == nil && b.Annotation == nil:
			return 0
		case a.Annotation == nil:
			return 1
		case b.Annotation == nil:
			return -1
		case a.Annotation.Score > b.Annotation.Score:
			return -1
		case a.Annotation.Score < b.Annotation.Score:
			return 1
		}
		return 0
	})
}

func printList(w io.Writer, recs []domain.JobRecord, page, pageSize int) {
	if page < 1 {
		page = 1
	}
	pages := max((len(recs)+pageSize-1)/pageSize, 1)
	start := min((page-1)*pageSize, len(recs))
	end := min(start+pageSize, len(recs))
	for i, rec := range recs[start:end] {
		fmt.Fprintf(w, "%3d. ", start+i+1)
		if rec.Annotation != nil {
			fmt.Fprintf(w, "[%.1f] ", rec.Annotation.Score)
		}
		fmt.Fprintf(w, "%s  %s", rec.ID, rec.Title)
		if rec.Location != "" {
			fmt.Fprintf(w, " (%s)", rec.Location)
		}
		if !rec.HasEmbedding() {
			fmt.Fprint(w, "  [not embedded]")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "page %d/%d, %d records\n", page, pages, len(recs))
}

func buildShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored vacancy with its metadata and annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configFile, "show")
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("show %s: %w", args[0], err)
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

func printRecord(w io.Writer, rec domain.JobRecord) {
	fmt.Fprintf(w, "id:        %s\n", rec.ID)
	fmt.Fprintf(w, "title:     %s\n", rec.Title)
	if rec.Location != "" {
		fmt.Fprintf(w, "location:  %s\n", rec.Location)
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	if rec.HasEmbedding() {
		fmt.Fprintf(w, "embedding: %d dims\n", len(rec.Embedding))
	} else {
		fmt.Fprintln(w, "embedding: none")
	}
	keys := make([]string, 0, len(rec.Metadata))
	for k := range rec.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, rec.Metadata[k])
	}

	if ann := rec.Annotation; ann != nil {
		fmt.Fprintf(w, "score:     %.2f\n", ann.Score)
		printField(w, "justification", ann.Justification)
		printField(w, "job type", ann.JobType)
		printField(w, "employer", ann.EmployerLocation)
		printField(w, "contact", strings.TrimSpace(ann.ContactPerson+" "+ann.ContactEmail))
		printField(w, "draft", ann.Draft)
	}

	if text := textclean.Text(rec.Description); text != "" {
		fmt.Fprintf(w, "\n%s\n", text)
	}
}

func printField(w io.Writer, name, v string) {
	if v != "" {
		fmt.Fprintf(w, "%s: %s\n", name, v)
	}
}
