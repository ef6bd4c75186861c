package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/modification"
)

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "json": OutputJSON, "compact": OutputCompact} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func sampleResponse() *models.RetrievalResponse {
	return &models.RetrievalResponse{
		Query:     "marketing budget",
		QueryTime: 12,
		Contexts: []*models.ContextChunk{
			{SourceID: "src-1", Source: "q3.txt", Ordinal: 0, LastOrdinal: 1, Text: "Marketing spend for Q3 rose.", Score: 0.91},
			{SourceID: "src-2", Source: "plan.csv", Ordinal: 4, LastOrdinal: 4, Text: "Digital Campaigns,40000", Score: 0.5, Fallback: true},
		},
	}
}

func TestWriteRetrieval_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteRetrieval(json): %v", err)
	}
	var decoded models.RetrievalResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "marketing budget" || len(decoded.Contexts) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteRetrieval_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 context(s) in 12ms", "Source: q3.txt", "(fallback embedding)", "Digital Campaigns"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRetrieval_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieval(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "0.9100\tq3.txt#0-1") {
		t.Errorf("line 0 = %q", lines[0])
	}
}

func TestWriteModification(t *testing.T) {
	item := "Digital Campaigns"
	applied := &modification.Result{
		Intent:   &models.ModificationIntent{Action: models.ActionIncrease, Category: "Marketing", LineItem: &item},
		Decision: modification.Decision{Accepted: true, PreviousAmount: 40000, Delta: 4000, NewAmount: 44000},
		LineItem: &models.BudgetLineItem{ID: 7, Version: 2},
	}
	var buf bytes.Buffer
	if err := WriteModification(&buf, applied, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "APPLIED Marketing / Digital Campaigns: $40,000.00 -> $44,000.00") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "version 2") {
		t.Errorf("missing version:\n%s", out)
	}

	rejected := &modification.Result{
		Intent:   &models.ModificationIntent{Action: models.ActionIncrease, Category: "Marketing"},
		Decision: modification.Decision{Reason: modification.ReasonExceedsPercentLimit, Detail: "50.0% exceeds 20.0%"},
	}
	buf.Reset()
	if err := WriteModification(&buf, rejected, OutputText); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "REJECTED Marketing: exceeds-percent-limit (50.0% exceeds 20.0%)\n" {
		t.Errorf("got %q", got)
	}
}

func TestWriteStatus_Text(t *testing.T) {
	n := int64(2048)
	var buf bytes.Buffer
	err := WriteStatus(&buf, &Status{
		Documents:      3,
		Chunks:         42,
		DiskUsageBytes: &n,
		Ingestion:      map[string]int{"done": 3, "dead": 1},
		Config:         map[string]interface{}{"chunk_size": 1000},
	}, OutputText)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"documents:          3", "chunks:             42", "disk_usage_bytes:   2048", "dead:", "chunk_size:"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "dead:") > strings.Index(out, "done:") {
		t.Error("ingestion counts should be sorted")
	}
}
