package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torisolate/internal/config"
	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/proxyconfig"
	"github.com/nao1215/torisolate/internal/report"
	"github.com/spf13/cobra"
)

// discardLogger returns a logger that drops everything.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeConfigFile writes content to a config file in a temp directory.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// TestGetVerboseFlag tests reading the verbose flag from the command tree.
func TestGetVerboseFlag(t *testing.T) {
	t.Parallel()

	t.Run("reads root persistent flag", func(t *testing.T) {
		t.Parallel()

		root := NewRootCmd()
		if err := root.PersistentFlags().Set("verbose", "true"); err != nil {
			t.Fatalf("failed to set flag: %v", err)
		}
		if !getVerboseFlag(root) {
			t.Error("expected verbose to be true")
		}
	})

	t.Run("missing flag is false", func(t *testing.T) {
		t.Parallel()

		if getVerboseFlag(&cobra.Command{Use: "bare"}) {
			t.Error("expected verbose to be false")
		}
		if getConfigFlag(&cobra.Command{Use: "bare"}) != "" {
			t.Error("expected empty config path")
		}
	})
}

// TestLoadConfig tests building a Config from the config file.
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("applies explicit config file", func(t *testing.T) {
		t.Parallel()

		path := writeConfigFile(t, `
proxy:
  address: "127.0.0.1:9150"
credentials:
  ttl: 5m
fetch:
  concurrency: 8
sites:
  example.com:
    cookie: "session=abc"
`)
		root := NewRootCmd()
		if err := root.PersistentFlags().Set("config", path); err != nil {
			t.Fatalf("failed to set flag: %v", err)
		}

		cfg, err := loadConfig(root, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !cfg.UseExternalTor || cfg.TorProxyAddress != "127.0.0.1:9150" {
			t.Errorf("expected external proxy from file, got %+v", cfg)
		}
		if cfg.CredentialTTL != 5*time.Minute {
			t.Errorf("expected TTL 5m, got %v", cfg.CredentialTTL)
		}
		if cfg.Concurrency != 8 {
			t.Errorf("expected concurrency 8, got %d", cfg.Concurrency)
		}
		if got := cfg.Sites.GetSiteConfig("example.com").Cookie; got != "session=abc" {
			t.Errorf("expected site cookie, got %q", got)
		}
		if len(cfg.Targets) != 1 || cfg.ConfigFilePath != path {
			t.Errorf("unexpected targets or path: %+v", cfg)
		}
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		t.Parallel()

		root := NewRootCmd()
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		if err := root.PersistentFlags().Set("config", missing); err != nil {
			t.Fatalf("failed to set flag: %v", err)
		}

		_, err := loadConfig(root, nil)
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid YAML is an error", func(t *testing.T) {
		t.Parallel()

		path := writeConfigFile(t, "credentials: [not a map")
		root := NewRootCmd()
		if err := root.PersistentFlags().Set("config", path); err != nil {
			t.Fatalf("failed to set flag: %v", err)
		}

		if _, err := loadConfig(root, nil); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

// TestOverrideHelpers tests that flags only override values the user set.
func TestOverrideHelpers(t *testing.T) {
	t.Parallel()

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Duration("wait", time.Second, "")
		cmd.Flags().Int("count", 1, "")
		cmd.Flags().String("name", "default", "")
		return cmd
	}

	t.Run("unset flags keep the existing value", func(t *testing.T) {
		t.Parallel()

		cmd := newCmd()
		wait, count, name := time.Minute, 7, "file"
		if err := overrideDuration(cmd, "wait", &wait); err != nil {
			t.Fatal(err)
		}
		if err := overrideInt(cmd, "count", &count); err != nil {
			t.Fatal(err)
		}
		if err := overrideString(cmd, "name", &name); err != nil {
			t.Fatal(err)
		}
		if wait != time.Minute || count != 7 || name != "file" {
			t.Errorf("values were overridden: %v %d %q", wait, count, name)
		}
	})

	t.Run("set flags replace the value", func(t *testing.T) {
		t.Parallel()

		cmd := newCmd()
		if err := cmd.ParseFlags([]string{"--wait", "5s", "--count", "3", "--name", "flag"}); err != nil {
			t.Fatal(err)
		}
		wait, count, name := time.Minute, 7, "file"
		if err := overrideDuration(cmd, "wait", &wait); err != nil {
			t.Fatal(err)
		}
		if err := overrideInt(cmd, "count", &count); err != nil {
			t.Fatal(err)
		}
		if err := overrideString(cmd, "name", &name); err != nil {
			t.Fatal(err)
		}
		if wait != 5*time.Second || count != 3 || name != "flag" {
			t.Errorf("values were not overridden: %v %d %q", wait, count, name)
		}
	})
}

// createTestSummary builds a summary with one credential.
func createTestSummary(t *testing.T) *report.Summary {
	t.Helper()

	store := credential.NewStore(time.Minute)
	cred, err := store.GetOrCreate("example.com", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	endpoint := proxyconfig.NewEndpoint("127.0.0.1", 9050)
	return report.NewSummary(endpoint, store.TTL(), []credential.Credential{cred}, nil, time.Now())
}

// TestOutputReport tests report format selection and file output.
func TestOutputReport(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		json     bool
		markdown bool
		contains string
	}{
		{"simple", false, false, "TORISOLATE CIRCUIT REPORT"},
		{"json", true, false, `"version"`},
		{"markdown", false, true, "# Torisolate Circuit Report"},
	}

	for _, tc := range testCases {
		t.Run(tc.name+" to stdout", func(t *testing.T) {
			t.Parallel()

			cfg := config.NewConfig()
			cfg.JSONReport = tc.json
			cfg.MarkdownReport = tc.markdown

			var out bytes.Buffer
			if err := outputReport(&out, cfg, createTestSummary(t)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out.String(), tc.contains) {
				t.Errorf("expected output to contain %q:\n%s", tc.contains, out.String())
			}
		})
	}

	t.Run("file gets format and stdout gets text", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.JSONReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "reports", "out.json")

		var out bytes.Buffer
		if err := outputReport(&out, cfg, createTestSummary(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatalf("failed to read report file: %v", err)
		}
		var decoded report.JSONReport
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("report file is not JSON: %v", err)
		}
		if decoded.Summary == nil || len(decoded.Summary.Credentials) != 1 {
			t.Errorf("unexpected report: %+v", decoded)
		}
		if !strings.Contains(out.String(), "TORISOLATE CIRCUIT REPORT") {
			t.Error("expected text report on stdout")
		}
	})
}
