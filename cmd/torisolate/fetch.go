package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nao1215/torisolate/internal/config"
	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/fetch"
	"github.com/nao1215/torisolate/internal/proxyconfig"
	"github.com/nao1215/torisolate/internal/report"
	"github.com/nao1215/torisolate/internal/tor"
	"github.com/spf13/cobra"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Fetch URLs through Tor with one circuit per site",
		Long: `Fetch downloads each URL through Tor and reports the outcome.

Every site (registrable domain) is given its own SOCKS5 credential, so Tor
builds a separate circuit for it. URLs on the same site share a circuit
until the credential expires after --ttl.

Examples:
  # Fetch two sites over separate circuits
  torisolate fetch https://example.com https://example.org

  # Use an external Tor proxy instead of the embedded daemon
  torisolate fetch --external-tor 127.0.0.1:9150 https://example.com

  # Fetch slowly, one URL at a time
  torisolate fetch -b 1 -i 5s https://a.example https://b.example

  # Write a Markdown report to a file
  torisolate fetch -m -o report.md https://example.com

Configuration file (.torisolate) example:
  credentials:
    ttl: 10m
  sites:
    example.com:
      cookie: "session_id=abc123"
      headers:
        Authorization: "Bearer token"`,
		Args: cobra.ArbitraryArgs,
		RunE: runFetchCmd,
	}

	// Tor connection flags
	cmd.Flags().StringP("external-tor", "e", "",
		"Use external Tor proxy at specified address (e.g., 127.0.0.1:9150)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Credential flags
	cmd.Flags().Int("max-entries", config.DefaultMaxEntries,
		"Maximum number of sites tracked at once (0 means unbounded)")

	// Fetch behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().IntP("concurrency", "b", config.DefaultConcurrency,
		"Number of concurrent requests")
	cmd.Flags().DurationP("interval", "i", config.DefaultRequestInterval,
		"Minimum delay between the start of two requests")
	cmd.Flags().StringP("user-agent", "A", config.DefaultUserAgent,
		"User-Agent header sent with each request")

	addReportFlags(cmd)

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildFetchConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runFetch(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// buildFetchConfig creates a Config from the config file and cobra flags.
// Flags override the file only when the user set them.
func buildFetchConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return nil, err
	}

	externalTor, err := cmd.Flags().GetString("external-tor")
	if err != nil {
		return nil, err
	}
	if externalTor != "" {
		cfg.UseExternalTor = true
		cfg.TorProxyAddress = externalTor
	}

	if err := overrideDuration(cmd, "tor-timeout", &cfg.TorStartupTimeout); err != nil {
		return nil, err
	}
	if err := overrideInt(cmd, "max-entries", &cfg.MaxEntries); err != nil {
		return nil, err
	}
	if err := overrideDuration(cmd, "timeout", &cfg.Timeout); err != nil {
		return nil, err
	}
	if err := overrideInt(cmd, "concurrency", &cfg.Concurrency); err != nil {
		return nil, err
	}
	if err := overrideDuration(cmd, "interval", &cfg.RequestInterval); err != nil {
		return nil, err
	}
	if err := overrideString(cmd, "user-agent", &cfg.UserAgent); err != nil {
		return nil, err
	}

	if err := readReportFlags(cmd, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// runFetch fetches every target through per-site circuits and writes the
// report to out. Progress lines go to progress.
func runFetch(ctx context.Context, cfg *config.Config, out, progress io.Writer, logger *slog.Logger) error {
	if len(cfg.Targets) == 0 {
		return config.ErrNoTarget
	}

	for _, target := range cfg.Targets {
		if _, err := tor.SiteKey(target); err != nil {
			return fmt.Errorf("invalid URL %q: %w", target, err)
		}
	}

	logger.Info("starting fetch",
		"targets", len(cfg.Targets),
		"useExternalTor", cfg.UseExternalTor,
		"concurrency", cfg.Concurrency,
		"ttl", cfg.CredentialTTL,
	)

	endpoint, stopTor, err := startProxy(ctx, cfg, progress, logger)
	if err != nil {
		return err
	}
	defer stopTor()

	store := credential.NewStore(cfg.CredentialTTL, credential.WithMaxEntries(cfg.MaxEntries))
	service := tor.NewService(endpoint, store,
		tor.WithLogger(logger),
		tor.WithSweepInterval(cfg.EffectiveSweepInterval()),
	)
	service.Start(ctx)
	defer service.Stop()

	client := tor.NewClient(service, cfg.Timeout, tor.WithClientLogger(logger))
	defer client.CloseIdleConnections()
	service.AddObserver(client)
	defer service.RemoveObserver(client)

	fetcher := fetch.NewBatchFetcher(client,
		fetch.WithBatchLogger(logger),
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithRequestInterval(cfg.RequestInterval),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithSiteConfig(cfg.Sites),
	)

	fmt.Fprintf(progress, "Fetching %d URL(s) (concurrency: %d)...\n\n",
		len(cfg.Targets), cfg.Concurrency)
	startTime := time.Now()

	results := make([]fetch.Result, len(cfg.Targets))
	var (
		mu   sync.Mutex
		done int
	)
	fetchErr := fetcher.FetchEach(ctx, cfg.Targets, func(result fetch.Result, index int) {
		mu.Lock()
		defer mu.Unlock()

		results[index] = result
		done++
		writeProgress(progress, done, len(cfg.Targets), result)
	})

	fmt.Fprintf(progress, "\nFetch completed in %s\n", time.Since(startTime).Round(time.Millisecond))

	summary := report.NewSummary(endpoint, store.TTL(), store.Snapshot(), results, time.Now())
	if err := outputReport(out, cfg, summary); err != nil {
		return err
	}

	return fetchErr
}

// writeProgress prints one line for a completed URL.
func writeProgress(w io.Writer, done, total int, result fetch.Result) {
	if !result.OK() {
		fmt.Fprintf(w, "[%d/%d] %s: %s\n", done, total, result.URL, result.Error)
		return
	}
	fmt.Fprintf(w, "[%d/%d] %s: %d (%d bytes via %s)\n",
		done, total, result.URL, result.StatusCode, result.Bytes, result.SiteKey)
}

// startProxy returns a verified Tor SOCKS endpoint and a function that
// releases it. An external proxy is checked with a SOCKS5 handshake;
// otherwise an embedded daemon is started.
func startProxy(ctx context.Context, cfg *config.Config, progress io.Writer, logger *slog.Logger) (proxyconfig.Endpoint, func(), error) {
	if !cfg.UseExternalTor {
		return startEmbeddedTor(ctx, cfg, progress, logger)
	}

	endpoint, err := cfg.ProxyEndpoint()
	if err != nil {
		return proxyconfig.Endpoint{}, nil, err
	}

	if status := tor.CheckProxy(ctx, endpoint); status != tor.ProxyStatusOK {
		return proxyconfig.Endpoint{}, nil, fmt.Errorf("tor proxy check failed: %w (make sure Tor is running at %s)",
			status.Error(), endpoint.Address())
	}

	logger.Info("Tor proxy connection verified", "address", endpoint.Address())
	return endpoint, func() {}, nil
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, progress io.Writer, logger *slog.Logger) (proxyconfig.Endpoint, func(), error) {
	fmt.Fprintln(progress, "Starting embedded Tor daemon...")
	fmt.Fprintf(progress, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embeddedTor := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
	)

	if err := embeddedTor.Start(ctx); err != nil {
		return proxyconfig.Endpoint{}, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	stop := func() {
		logger.Info("stopping embedded Tor daemon...")
		if err := embeddedTor.Stop(); err != nil {
			logger.Error("failed to stop embedded Tor", "error", err)
		}
	}

	endpoint, err := embeddedTor.Endpoint()
	if err != nil {
		stop()
		return proxyconfig.Endpoint{}, nil, fmt.Errorf("failed to read embedded Tor address: %w", err)
	}

	if status := tor.CheckProxy(ctx, endpoint); status != tor.ProxyStatusOK {
		stop()
		return proxyconfig.Endpoint{}, nil, fmt.Errorf("embedded Tor proxy check failed: %w", status.Error())
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", endpoint.Address(),
		"controlAddr", embeddedTor.ControlAddr(),
	)
	fmt.Fprintf(progress, "Embedded Tor daemon started successfully!\n")
	fmt.Fprintf(progress, "SOCKS proxy: %s\n\n", endpoint)

	return endpoint, stop, nil
}
