// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/eegsweep/internal/sweep"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter defines the interface for writing sweep summaries to an output.
type Reporter interface {
	Write(summary *sweep.Summary) error
	// Close releases the underlying output. It never closes stdout.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "text") writing to outputPath.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return NewWriter(format, os.Stdout)
	}
	if !supported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return newReporter(format, f), nil
}

// NewWriter creates a reporter on w. Closing the reporter leaves w open.
func NewWriter(format string, w io.Writer) (Reporter, error) {
	if !supported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return newReporter(format, &nopWriteCloser{w}), nil
}

func supported(format string) bool {
	return format == "json" || format == "text"
}

func newReporter(format string, w io.WriteCloser) Reporter {
	if format == "json" {
		return &JSONReporter{w: w}
	}
	return &TextReporter{w: w}
}

// JSONReporter writes each summary as an indented JSON document.
type JSONReporter struct {
	w io.WriteCloser
}

// NewJSONReporter takes ownership of w.
func NewJSONReporter(w io.WriteCloser) *JSONReporter { return &JSONReporter{w: w} }

func (r *JSONReporter) Write(summary *sweep.Summary) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error { return r.w.Close() }

// TextReporter renders summaries as an aligned, human-readable table.
type TextReporter struct {
	w io.WriteCloser
}

func (r *TextReporter) Write(summary *sweep.Summary) error {
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Sweep:\t%s\n", summary.SweepID)
	fmt.Fprintf(tw, "Status:\t%s\n", summary.Status)
	fmt.Fprintf(tw, "Seeds:\t%s\n", seedRange(summary.Seeds))
	fmt.Fprintf(tw, "Root:\t%s\n", summary.Root)
	fmt.Fprintf(tw, "Policy:\t%s\n", summary.Policy)
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(summary.StartedAt))
	fmt.Fprintf(tw, "Finished:\t%s\n", formatTime(summary.FinishedAt))
	fmt.Fprintf(tw, "Invocations:\tplanned=%d succeeded=%d failed=%d skipped=%d\n",
		summary.Planned, summary.Succeeded, len(summary.Failures), summary.Skipped)

	if len(summary.Failures) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "KIND\tSEED\tPROTOCOL\tSUBJECT\tSESSION\tEXIT\tERROR")
		for _, f := range summary.Failures {
			inv := f.Invocation
			protocol, subject, session := "-", "-", "-"
			if inv.Kind == sweep.KindTrain {
				protocol = string(inv.Protocol)
				subject = strconv.Itoa(inv.Subject)
				session = strconv.Itoa(inv.Session)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
				inv.Kind, inv.Seed, protocol, subject, session, f.ExitCode, orDash(f.Error))
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error { return r.w.Close() }

// seedRange prints contiguous seed lists compactly.
func seedRange(seeds []int) string {
	switch len(seeds) {
	case 0:
		return "-"
	case 1:
		return strconv.Itoa(seeds[0])
	}
	contiguous := true
	for i := 1; i < len(seeds); i++ {
		if seeds[i] != seeds[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d..%d", seeds[0], seeds[len(seeds)-1])
	}
	parts := make([]string, len(seeds))
	for i, s := range seeds {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// WriteSummaryFile stores summary as JSON at path. The file is replaced atomically.
func WriteSummaryFile(path string, summary *sweep.Summary) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary summary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := NewJSONReporter(tmp).Write(summary); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close summary file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set summary file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move summary into place: %w", err)
	}
	return nil
}

// ReadSummaryFile loads a summary written by WriteSummaryFile.
func ReadSummaryFile(path string) (*sweep.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary %s: %w", path, err)
	}
	var summary sweep.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary %s: %w", path, err)
	}
	return &summary, nil
}
