// Package repl provides the interactive doctor console. It is a thin shell
// over the record store, the aggregation reader and the summarization
// service; all data access goes through those collaborators.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sukeesh/drcopilot/pkg/aggregate"
	"github.com/sukeesh/drcopilot/pkg/ingest"
	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// SummaryService produces natural-language output from aggregated records.
type SummaryService interface {
	Summarize(ctx context.Context, patientID string, records []record.PrescriptionRecord) (string, error)
	Suggest(ctx context.Context, patientID, complaint string, records []record.PrescriptionRecord) (string, error)
}

// ReingestFunc re-runs ingestion over the configured image root. Nil when
// the console was started without an image root.
type ReingestFunc func(ctx context.Context) (*ingest.Stats, error)

const usage = "Commands: patients | find <query> | show <patient> | summary <patient> | ask <patient> <complaint> | reingest | exit"

// console holds the collaborators one interactive session works against.
type console struct {
	store    *store.RecordStore
	reader   *aggregate.Reader
	svc      SummaryService
	reingest ReingestFunc
	out      io.Writer
}

// Run starts the interactive console. It returns when the user exits or
// input is closed.
func Run(ctx context.Context, s *store.RecordStore, reader *aggregate.Reader, svc SummaryService, reingest ReingestFunc) {
	c := &console{
		store:    s,
		reader:   reader,
		svc:      svc,
		reingest: reingest,
		out:      os.Stdout,
	}

	fmt.Fprintln(c.out, "\n--- Dr.CoPilot Console ---")

	patients, err := s.ListPatients()
	if err != nil {
		fmt.Fprintf(c.out, "Error: cannot list patients: %v\n", err)
		return
	}
	if len(patients) == 0 {
		fmt.Fprintln(c.out, "No patients found in the archive. Run ingestion first.")
	} else {
		fmt.Fprintf(c.out, "Patients on file: %d\n", len(patients))
	}

	fmt.Fprintln(c.out, usage)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		if c.handle(ctx, strings.TrimSpace(scanner.Text())) {
			break
		}
	}
	fmt.Fprintln(c.out, "👋 Bye!")
}

// patients returns the current patient list. Fetched per command so
// ingestion running concurrently with the console is visible immediately.
func (c *console) patients() []string {
	patients, err := c.store.ListPatients()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return nil
	}
	return patients
}

// handle executes one console command. It reports whether the session
// should end.
func (c *console) handle(ctx context.Context, line string) bool {
	if line == "exit" || line == "quit" {
		return true
	}
	if line == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "patients":
		for _, p := range c.patients() {
			fmt.Fprintf(c.out, " - %s\n", p)
		}

	case "find":
		if rest == "" {
			fmt.Fprintln(c.out, "Usage: find <query>")
			return false
		}
		matches := FindPatientsBySimilarity(rest, c.patients())
		if len(matches) == 0 {
			fmt.Fprintln(c.out, "📭 No matching patients.")
			return false
		}
		for _, m := range matches {
			fmt.Fprintf(c.out, " - %s\n", m)
		}

	case "show":
		if rest == "" {
			fmt.Fprintln(c.out, "Usage: show <patient>")
			return false
		}
		patientID := c.resolvePatient(rest)
		records, err := c.reader.Aggregate(patientID)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		if len(records) == 0 {
			fmt.Fprintf(c.out, "📭 No prescriptions found for %s.\n", patientID)
			return false
		}
		fmt.Fprintf(c.out, "\n✅ %d prescription(s) for %s:\n", len(records), patientID)
		for _, rec := range records {
			printRecord(c.out, rec)
		}

	case "summary":
		if rest == "" {
			fmt.Fprintln(c.out, "Usage: summary <patient>")
			return false
		}
		patientID := c.resolvePatient(rest)
		records, err := c.reader.Aggregate(patientID)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		if len(records) == 0 {
			fmt.Fprintf(c.out, "📭 No prescriptions found for %s.\n", patientID)
			return false
		}
		fmt.Fprintln(c.out, "💭 Generating summary...")
		summary, err := c.svc.Summarize(ctx, patientID, records)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "\n📋 Summary for %s:\n%s\n\n", patientID, summary)

	case "ask":
		patientID, complaint, _ := strings.Cut(rest, " ")
		complaint = strings.TrimSpace(complaint)
		if patientID == "" || complaint == "" {
			fmt.Fprintln(c.out, "Usage: ask <patient> <complaint>")
			return false
		}
		patientID = c.resolvePatient(patientID)
		records, err := c.reader.Aggregate(patientID)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		if len(records) == 0 {
			fmt.Fprintf(c.out, "📭 No prescriptions found for %s.\n", patientID)
			return false
		}
		fmt.Fprintln(c.out, "💭 Thinking...")
		suggestion, err := c.svc.Suggest(ctx, patientID, complaint, records)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "\n%s\n\n", suggestion)

	case "reingest":
		if c.reingest == nil {
			fmt.Fprintln(c.out, "Error: no image root configured (start with --images).")
			return false
		}
		fmt.Fprintln(c.out, "💭 Re-scanning image directories...")
		stats, err := c.reingest(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "❌ Ingestion run failed: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "✅ Done: %d new, %d skipped, %d failed\n",
			stats.Processed, stats.Skipped, stats.Failed)

	case "help":
		fmt.Fprintln(c.out, usage)

	default:
		fmt.Fprintf(c.out, "Unknown command %q. Type 'help' for commands.\n", cmd)
	}
	return false
}

// resolvePatient returns the input if it names a known patient, otherwise
// the best fuzzy match when one exists.
func (c *console) resolvePatient(input string) string {
	patients := c.patients()
	for _, p := range patients {
		if p == input {
			return input
		}
	}
	matches := FindPatientsBySimilarity(input, patients)
	if len(matches) > 0 {
		fmt.Fprintf(c.out, "📝 Interpreting %q as %q\n", input, matches[0])
		return matches[0]
	}
	return input
}

func printRecord(w io.Writer, rec record.PrescriptionRecord) {
	hash := rec.ContentHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	fmt.Fprintf(w, " - %s (%s)\n", rec.Filename, hash)
	if rec.Details.IsStructured() {
		for k, v := range rec.Details.Structured {
			fmt.Fprintf(w, "     %s: %v\n", k, v)
		}
	} else if rec.Details.Raw != "" {
		fmt.Fprintf(w, "     %s\n", rec.Details.Raw)
	}
}
