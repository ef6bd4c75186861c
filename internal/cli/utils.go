// Package cli provides output helpers for the budgetrag command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/modification"
	"github.com/hyperjump/budgetrag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one line per entry.
	OutputCompact OutputFormat = "compact"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON, OutputCompact:
		return OutputFormat(s), nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes a retrieval response to w in the given format.
func WriteRetrieval(w io.Writer, resp *models.RetrievalResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, resp)
	case OutputCompact:
		for _, c := range resp.Contexts {
			fmt.Fprintf(w, "%.4f\t%s#%d-%d\t%s\n", c.Score, c.Source, c.Ordinal, c.LastOrdinal, utils.Truncate(c.Text, 80))
		}
		return nil
	default:
		writeRetrievalText(w, resp)
		return nil
	}
}

func writeRetrievalText(w io.Writer, resp *models.RetrievalResponse) {
	fmt.Fprintf(w, "\nFound %d context(s) in %dms\n", len(resp.Contexts), resp.QueryTime)
	if resp.QueryFallback {
		fmt.Fprintln(w, "note: query embedded with the fallback embedder; similarity is lexical only")
	}
	fmt.Fprintln(w)
	for i, c := range resp.Contexts {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] Score: %.4f | Source: %s | Chunks: %d-%d\n", i+1, c.Score, c.Source, c.Ordinal, c.LastOrdinal)
		if c.Fallback {
			fmt.Fprintln(w, "(fallback embedding)")
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(c.Text, 400))
	}
}

// WriteModification writes a submit result to w.
func WriteModification(w io.Writer, res *modification.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	d := res.Decision
	target := ""
	if res.Intent != nil {
		target = res.Intent.Category
		if res.Intent.LineItem != nil {
			target += " / " + *res.Intent.LineItem
		}
	}
	if !d.Accepted {
		fmt.Fprintf(w, "REJECTED %s: %s", target, d.Reason)
		if d.Detail != "" {
			fmt.Fprintf(w, " (%s)", d.Detail)
		}
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintf(w, "APPLIED %s: %s -> %s (%+.2f)\n", target,
		utils.FormatAmount(d.PreviousAmount), utils.FormatAmount(d.NewAmount), d.Delta)
	if res.LineItem != nil {
		fmt.Fprintf(w, "line item %d now at version %d\n", res.LineItem.ID, res.LineItem.Version)
	}
	return nil
}

// WriteLineItems writes budget line items as a table or JSON.
func WriteLineItems(w io.Writer, items []*models.BudgetLineItem, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, items)
	}
	for _, it := range items {
		fmt.Fprintf(w, "%-5d %-24s %-32s %16s  v%d\n", it.ID, it.Category, it.Name, utils.FormatAmount(it.Amount), it.Version)
	}
	return nil
}

// WriteCategories writes one category per line.
func WriteCategories(w io.Writer, cats []*models.Category, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, cats)
	}
	for _, c := range cats {
		fmt.Fprintf(w, "%-5d %-24s %s\n", c.ID, c.Name, c.Description)
	}
	return nil
}

// WriteHistory writes ledger records, newest first as returned by the store.
func WriteHistory(w io.Writer, recs []*models.ModificationRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, recs)
	}
	for _, r := range recs {
		amounts := ""
		if r.PreviousAmount != nil && r.NewAmount != nil {
			amounts = utils.FormatAmount(*r.PreviousAmount) + " -> " + utils.FormatAmount(*r.NewAmount)
		}
		fmt.Fprintf(w, "%s  %-8s %-8s %-20s %-28s %s",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Outcome, r.Action, r.Category, amounts, r.Actor)
		if r.Reason != "" {
			fmt.Fprintf(w, "  [%s]", r.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Documents      int64                  `json:"documents"`
	Chunks         int64                  `json:"chunks"`
	FallbackChunks int64                  `json:"fallback_chunks"`
	Ingestion      map[string]int         `json:"ingestion,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes a status summary.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "documents:          %d   # indexed source documents\n", s.Documents)
	fmt.Fprintf(w, "chunks:             %d   # chunks in active generations\n", s.Chunks)
	fmt.Fprintf(w, "fallback_chunks:    %d   # chunks embedded with the fallback embedder\n", s.FallbackChunks)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *s.DiskUsageBytes)
	}
	if len(s.Ingestion) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# ingestion")
		for _, k := range sortedKeys(s.Ingestion) {
			fmt.Fprintf(w, "%-19s %d\n", k+":", s.Ingestion[k])
		}
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-19s %v\n", k+":", s.Config[k])
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
