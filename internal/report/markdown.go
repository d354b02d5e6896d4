package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs GitHub Flavored Markdown built with
// nao1215/markdown: tables, alerts and a mermaid pie chart.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeOutcome(md, summary)
	w.writeCircuits(md, summary)
	w.writeResults(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *Summary) {
	md.H1("Torisolate Circuit Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Tor Proxy", "`" + summary.Proxy + "`"},
			{"Circuit TTL", summary.TTL.String()},
			{"Generated", summary.GeneratedAt.Format(timeLayout)},
			{"Sites", strconv.Itoa(len(summary.Credentials))},
			{"URLs", strconv.Itoa(len(summary.Results))},
		},
	})
	md.PlainText("")
}

// writeOutcome writes the fetch outcome chart and an alert.
func (w *MarkdownWriter) writeOutcome(md *markdown.Markdown, summary *Summary) {
	if len(summary.Results) == 0 {
		md.Note("No URLs were fetched. Circuits below were assigned without contacting Tor.")
		md.PlainText("")
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Fetch Outcome"),
		piechart.WithShowData(true),
	)
	if n := summary.Succeeded(); n > 0 {
		chart.LabelAndIntValue("OK", uint64(n))
	}
	if n := summary.Failed(); n > 0 {
		chart.LabelAndIntValue("Failed", uint64(n))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	switch failed := summary.Failed(); {
	case failed == len(summary.Results):
		md.Cautionf("All %d request(s) failed. Check that Tor is running and reachable.", failed)
	case failed > 0:
		md.Warningf("%d of %d request(s) failed.", failed, len(summary.Results))
	case summary.Truncated() > 0:
		md.Importantf("%d response(s) were truncated at the body size limit.", summary.Truncated())
	default:
		md.Tip("All requests completed.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeCircuits(md *markdown.Markdown, summary *Summary) {
	md.H2("Circuits")
	md.PlainText("")

	if len(summary.Credentials) == 0 {
		md.PlainText("No site credentials.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.Credentials))
	for i, row := range summary.Credentials {
		rows[i] = []string{
			"`" + row.SiteKey + "`",
			"`" + row.Username + "`",
			row.ExpiresAt.Format(timeLayout),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Site", "Proxy Username", "Expires"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeResults(md *markdown.Markdown, summary *Summary) {
	if len(summary.Results) == 0 {
		return
	}

	md.H2("Results")
	md.PlainText("")

	rows := make([][]string, len(summary.Results))
	for i, r := range summary.Results {
		status := "❌"
		if r.OK() {
			status = strconv.Itoa(r.StatusCode)
		}
		size := formatCount(r.Bytes)
		if r.Truncated {
			size += " (truncated)"
		}
		site := r.SiteKey
		if site == "" {
			site = "-"
		}

		rows[i] = []string{
			truncateString(r.URL, 60),
			site,
			truncateString(r.Title, 40),
			status,
			size,
			formatElapsed(r.Elapsed),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "Site", "Title", "Status", "Bytes", "Elapsed"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, r := range summary.Results {
		if !r.OK() {
			md.Details(truncateString(r.URL, 60), r.Error)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [torisolate](https://github.com/nao1215/torisolate)*")
}
