package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nao1215/torisolate/internal/config"
	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/report"
	"github.com/nao1215/torisolate/internal/tor"
	"github.com/spf13/cobra"
)

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [url...]",
		Short: "Show which circuit credential each URL would use",
		Long: `Resolve maps each URL to its site and prints the SOCKS5 proxy
configuration that site would use. Tor is not contacted.

URLs on the same registrable domain resolve to the same credential.
Passwords are redacted unless --reveal is given, in which case one proxy
URL per site is printed so it can be passed to another program.

Examples:
  # Show the circuit grouping of three URLs
  torisolate resolve https://a.example.com https://b.example.com https://example.org

  # Print usable proxy URLs for curl
  torisolate resolve --reveal https://example.com`,
		Args: cobra.ArbitraryArgs,
		RunE: runResolveCmd,
	}

	cmd.Flags().StringP("proxy", "p", config.DefaultTorProxyAddress,
		"Tor SOCKS proxy address the configuration points at")
	cmd.Flags().BoolP("reveal", "r", false,
		"Print proxy URLs including passwords instead of a report")

	addReportFlags(cmd)

	return cmd
}

// runResolveCmd executes the resolve command.
func runResolveCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := overrideString(cmd, "proxy", &cfg.TorProxyAddress); err != nil {
		return err
	}
	cfg.UseExternalTor = true

	if err := readReportFlags(cmd, cfg); err != nil {
		return err
	}

	reveal, err := cmd.Flags().GetBool("reveal")
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	return runResolve(cfg, reveal, cmd.OutOrStdout(), logger)
}

// runResolve assigns a credential to every target's site and prints the
// result.
func runResolve(cfg *config.Config, reveal bool, out io.Writer, logger *slog.Logger) error {
	endpoint, err := cfg.ProxyEndpoint()
	if err != nil {
		return err
	}

	store := credential.NewStore(cfg.CredentialTTL, credential.WithMaxEntries(cfg.MaxEntries))
	service := tor.NewService(endpoint, store, tor.WithLogger(logger))

	var order []string
	seen := make(map[string]bool)
	for _, target := range cfg.Targets {
		siteKey, err := tor.SiteKey(target)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", target, err)
		}
		if _, _, err := service.LatestConfig(siteKey); err != nil {
			return err
		}
		if !seen[siteKey] {
			seen[siteKey] = true
			order = append(order, siteKey)
		}
	}

	if reveal {
		for _, siteKey := range order {
			proxyCfg, _, err := service.LatestConfig(siteKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\n", siteKey, proxyCfg.URL())
		}
		return nil
	}

	summary := report.NewSummary(endpoint, store.TTL(), store.Snapshot(), nil, time.Now())
	return outputReport(out, cfg, summary)
}
