package report

import (
	"fmt"
	"io"
	"strings"
)

// SimpleWriter outputs human-readable text for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints sections that have no rows.
	showEmpty bool

	// verbose adds creation times and per-request latency.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCircuits(&sb, summary)
	w.writeResults(&sb, summary)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                     TORISOLATE CIRCUIT REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Tor Proxy:      %s\n", summary.Proxy)
	fmt.Fprintf(sb, "Circuit TTL:    %s\n", summary.TTL)
	fmt.Fprintf(sb, "Generated:      %s\n", summary.GeneratedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Sites:          %d\n", len(summary.Credentials))
	if len(summary.Results) > 0 {
		fmt.Fprintf(sb, "Fetched:        %d ok, %d failed\n", summary.Succeeded(), summary.Failed())
	}
	sb.WriteString("\n")
}

// writeSection writes a section title between rules.
func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeCircuits(sb *strings.Builder, summary *Summary) {
	if len(summary.Credentials) == 0 && !w.showEmpty {
		return
	}

	writeSection(sb, "CIRCUITS")

	if len(summary.Credentials) == 0 {
		sb.WriteString("  No site credentials\n\n")
		return
	}

	for _, row := range summary.Credentials {
		fmt.Fprintf(sb, "  [+] %s\n", row.SiteKey)
		fmt.Fprintf(sb, "      Proxy:   %s\n", row.ProxyURL)
		if w.verbose {
			fmt.Fprintf(sb, "      Created: %s\n", row.CreatedAt.Format(timeLayout))
		}
		fmt.Fprintf(sb, "      Expires: %s\n", row.ExpiresAt.Format(timeLayout))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeResults(sb *strings.Builder, summary *Summary) {
	if len(summary.Results) == 0 && !w.showEmpty {
		return
	}

	writeSection(sb, "RESULTS")

	if len(summary.Results) == 0 {
		sb.WriteString("  No URLs fetched\n\n")
		return
	}

	for _, r := range summary.Results {
		if !r.OK() {
			fmt.Fprintf(sb, "  [!] %s\n", r.URL)
			fmt.Fprintf(sb, "      Error:   %s\n", r.Error)
			continue
		}

		fmt.Fprintf(sb, "  [%d] %s\n", r.StatusCode, r.URL)
		size := formatCount(r.Bytes) + " bytes"
		if r.Truncated {
			size += " (truncated)"
		}
		fmt.Fprintf(sb, "      Site:    %s\n", r.SiteKey)
		if r.Title != "" {
			fmt.Fprintf(sb, "      Title:   %s\n", truncateString(r.Title, 60))
		}
		fmt.Fprintf(sb, "      Size:    %s\n", size)
		if w.verbose {
			fmt.Fprintf(sb, "      Elapsed: %s\n", formatElapsed(r.Elapsed))
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Each site above used its own Tor circuit.\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
