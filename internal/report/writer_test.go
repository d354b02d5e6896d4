package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/fetch"
	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// testSecret is a recognizable secret that must never reach a report.
const testSecret = "supersecretvalueforreports"

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// createTestSummary creates a summary with two sites and three results.
func createTestSummary() *Summary {
	endpoint := proxyconfig.NewEndpoint("127.0.0.1", 9050)
	creds := []credential.Credential{
		{SiteKey: "example.org", Secret: credential.Secret(testSecret), CreatedAt: testTime, ExpiresAt: testTime.Add(10 * time.Minute)},
		{SiteKey: "example.com", Secret: credential.Secret(testSecret + "2"), CreatedAt: testTime, ExpiresAt: testTime.Add(5 * time.Minute)},
	}
	results := []fetch.Result{
		{URL: "https://example.com/", SiteKey: "example.com", Username: proxyconfig.Username("example.com"), StatusCode: 200, Bytes: 1234, Title: "Example Domain", Elapsed: 1500 * time.Millisecond},
		{URL: "https://example.org/big", SiteKey: "example.org", Username: proxyconfig.Username("example.org"), StatusCode: 200, Bytes: 10, Truncated: true},
		{URL: "https://down.example.net/", SiteKey: "example.net", Error: "socks connect: general failure"},
	}
	return NewSummary(endpoint, 10*time.Minute, creds, results, testTime)
}

// TestNewSummary tests summary construction.
func TestNewSummary(t *testing.T) {
	t.Parallel()

	s := createTestSummary()

	if s.Proxy != "socks5://127.0.0.1:9050" {
		t.Errorf("Proxy = %q", s.Proxy)
	}
	if len(s.Credentials) != 2 || s.Credentials[0].SiteKey != "example.com" {
		t.Errorf("expected credentials sorted by site, got %+v", s.Credentials)
	}
	if s.Credentials[0].Username != proxyconfig.Username("example.com") {
		t.Errorf("unexpected username %q", s.Credentials[0].Username)
	}
	for _, row := range s.Credentials {
		if strings.Contains(row.ProxyURL, testSecret) {
			t.Errorf("proxy URL leaks secret: %s", row.ProxyURL)
		}
	}
	if s.Succeeded() != 2 || s.Failed() != 1 || s.Truncated() != 1 {
		t.Errorf("unexpected counts: ok=%d failed=%d truncated=%d", s.Succeeded(), s.Failed(), s.Truncated())
	}
}

// TestWriters_NeverLeakSecrets tests every writer against the test secret.
func TestWriters_NeverLeakSecrets(t *testing.T) {
	t.Parallel()

	writers := map[string]func(*bytes.Buffer) Writer{
		"simple":   func(b *bytes.Buffer) Writer { return NewSimpleWriter(b, WithVerbose(true), WithShowEmpty(true)) },
		"json":     func(b *bytes.Buffer) Writer { return NewJSONWriter(b, WithPrettyPrint()) },
		"fulljson": func(b *bytes.Buffer) Writer { return NewFullJSONWriter(b, "v1.0.0") },
		"markdown": func(b *bytes.Buffer) Writer { return NewMarkdownWriter(b) },
	}

	for name, newWriter := range writers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			n, err := newWriter(&buf).Write(createTestSummary())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n == 0 {
				t.Error("expected bytes to be written")
			}
			if strings.Contains(buf.String(), testSecret) {
				t.Errorf("%s output leaks the proxy secret", name)
			}
		})
	}
}

// TestSimpleWriter tests the human-readable report writer.
func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes header and sections", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"TORISOLATE CIRCUIT REPORT",
			"socks5://127.0.0.1:9050",
			"CIRCUITS",
			"[+] example.com",
			"RESULTS",
			"[200] https://example.com/",
			"1,234 bytes",
			"Title:   Example Domain",
			"10 bytes (truncated)",
			"[!] https://down.example.net/",
			"2 ok, 1 failed",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q:\n%s", want, output)
			}
		}
		if strings.Contains(output, "Elapsed:") {
			t.Error("expected elapsed time only in verbose mode")
		}
	})

	t.Run("verbose adds timings", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Elapsed: 1.5s") {
			t.Errorf("expected elapsed time in verbose output:\n%s", buf.String())
		}
	})

	t.Run("empty sections are hidden by default", func(t *testing.T) {
		t.Parallel()

		summary := NewSummary(proxyconfig.NewEndpoint("127.0.0.1", 9050), time.Minute, nil, nil, testTime)

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(summary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "RESULTS") || strings.Contains(buf.String(), "CIRCUITS") {
			t.Error("expected empty sections to be hidden")
		}

		buf.Reset()
		if _, err := NewSimpleWriter(&buf, WithShowEmpty(true)).Write(summary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No URLs fetched") {
			t.Error("expected empty sections with WithShowEmpty")
		}
	})
}

// TestJSONWriter tests the JSON report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes valid JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded Summary
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded.Results) != 3 || len(decoded.Credentials) != 2 {
			t.Errorf("unexpected decoded summary: %+v", decoded)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("expected compact single-line JSON")
		}
	})

	t.Run("pretty print indents", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithIndent("", "\t")).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n\t\"") {
			t.Error("expected tab-indented output")
		}
	})

	t.Run("full writer adds version", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewFullJSONWriter(&buf, "v1.2.3").Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded JSONReport
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.Version != "v1.2.3" || decoded.Summary == nil {
			t.Errorf("unexpected report: %+v", decoded)
		}
	})
}

// TestMarkdownWriter tests the Markdown report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes tables and alerts", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"# Torisolate Circuit Report",
			"## Circuits",
			"## Results",
			"Proxy Username",
			"```mermaid",
			"[!WARNING]",
			"socks connect: general failure",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q:\n%s", want, output)
			}
		}
	})

	t.Run("resolve-only summary gets a note", func(t *testing.T) {
		t.Parallel()

		s := createTestSummary()
		s.Results = nil

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "[!NOTE]") {
			t.Errorf("expected a note alert:\n%s", buf.String())
		}
		if strings.Contains(buf.String(), "## Results") {
			t.Error("expected no results section")
		}
	})

	t.Run("all failed is a caution", func(t *testing.T) {
		t.Parallel()

		s := createTestSummary()
		s.Results = s.Results[2:]

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "[!CAUTION]") {
			t.Errorf("expected a caution alert:\n%s", buf.String())
		}
	})
}

// failingWriter always fails.
type failingWriter struct{}

func (failingWriter) Write(*Summary) (int, error) {
	return 0, errors.New("disk full")
}

// TestMultiWriter tests writing to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var a, b bytes.Buffer
		n, err := NewMultiWriter(NewSimpleWriter(&a), NewJSONWriter(&b)).Write(createTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Len() == 0 || b.Len() == 0 {
			t.Error("expected both writers to receive output")
		}
		if n != a.Len()+b.Len() {
			t.Errorf("expected total %d, got %d", a.Len()+b.Len(), n)
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		_, err := NewMultiWriter(failingWriter{}, NewSimpleWriter(&buf)).Write(createTestSummary())
		if err == nil {
			t.Fatal("expected error")
		}
		if buf.Len() != 0 {
			t.Error("expected later writers to be skipped")
		}
	})
}

// TestTruncateString tests the truncation helper.
func TestTruncateString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"日本語のタイトルです", 6, "日本語..."},
	}

	for _, tc := range testCases {
		if got := truncateString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("truncateString(%q, %d) = %q, expected %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

// TestFormatCount tests digit grouping.
func TestFormatCount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		n        int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1234, "1,234"},
		{5242880, "5,242,880"},
	}

	for _, tc := range testCases {
		if got := formatCount(tc.n); got != tc.expected {
			t.Errorf("formatCount(%d) = %q, expected %q", tc.n, got, tc.expected)
		}
	}
}
