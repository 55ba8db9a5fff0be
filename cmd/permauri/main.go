// permauri maintains permanent identifiers for objects in an
// S3-compatible bucket and serves them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/permauri/permauri/internal/config"
	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/monitor"
	"github.com/permauri/permauri/internal/objstore"
	"github.com/permauri/permauri/internal/reconcile"
	"github.com/permauri/permauri/internal/resolver"
	"github.com/permauri/permauri/internal/server"
	"github.com/permauri/permauri/internal/snapshot"
	"github.com/permauri/permauri/internal/urimap"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	mapFile       = "uri_map.json"
	snapshotFile  = "snapshot.json.zst"
	changelogFile = "changelog.jsonl"
)

var (
	cfgFile  string
	logLevel string

	// sync flags
	incremental bool

	// export flags
	exportOutput  string
	exportBaseURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "permauri",
		Short: "Permanent URIs for S3-compatible object storage",
		Long: `permauri assigns every object in a bucket a short opaque identifier
that survives renames, moves, and re-uploads. It keeps the identifier
map reconciled against the live bucket and redirects /file/<id>
requests to freshly signed retrieval URLs.

Run the full service:

  permauri serve --config permauri.yaml

One-shot reconciliation (cron-friendly):

  permauri sync --config permauri.yaml

Export the current map as public URLs:

  permauri export --config permauri.yaml --output urls.json`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background bucket monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return runSync()
		},
	}
	syncCmd.Flags().BoolVar(&incremental, "incremental", false,
		"only assign identifiers to unmapped keys; never prune or rewrite")
	rootCmd.AddCommand(syncCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the identifier map as permanent URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return runExport()
		},
	}
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().StringVar(&exportBaseURL, "base-url", "", "base URL override for exported links")
	rootCmd.AddCommand(exportCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("permauri %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// stack is the assembled service: stores, resolver, and monitor, built
// from one config.
type stack struct {
	cfg       *config.Config
	maps      *urimap.Store
	snapshots *snapshot.Store
	changelog *reconcile.Changelog
	store     *objstore.S3Store
	gen       *idgen.Generator
	resolver  *resolver.Resolver
	monitor   *monitor.Monitor
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fs := osfs.New(cfg.DataDir)

	maps := urimap.NewStore(fs, mapFile)
	snapshots, err := snapshot.NewStore(fs, snapshotFile)
	if err != nil {
		return nil, err
	}
	changelog := reconcile.NewChangelog(fs, changelogFile)

	callTimeout, err := cfg.StoreTimeout()
	if err != nil {
		return nil, err
	}
	store, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:    cfg.Store.Endpoint,
		Region:      cfg.Store.Region,
		Bucket:      cfg.Store.Bucket,
		Prefix:      cfg.Store.Prefix,
		AccessKey:   cfg.Store.AccessKey,
		SecretKey:   cfg.Store.SecretKey,
		CallTimeout: callTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	interval, err := cfg.MonitorInterval()
	if err != nil {
		return nil, err
	}

	gen := idgen.New()
	return &stack{
		cfg:       cfg,
		maps:      maps,
		snapshots: snapshots,
		changelog: changelog,
		store:     store,
		gen:       gen,
		resolver:  resolver.New(maps, store, gen, log.Logger),
		monitor:   monitor.New(store, maps, snapshots, changelog, gen, interval, log.Logger),
	}, nil
}

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	expiry, err := st.cfg.PresignExpiryDuration()
	if err != nil {
		return err
	}

	st.monitor.Start()
	srv := server.New(st.resolver, st.monitor, expiry, log.Logger)
	srv.Start(st.cfg.Listen)

	log.Info().
		Str("version", Version).
		Str("bucket", st.cfg.Store.Bucket).
		Str("mode", st.cfg.Monitor.Mode).
		Msg("permauri started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	st.monitor.Stop()
	st.resolver.Wait()
	return nil
}

func runSync() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}

	if incremental {
		return runIncrementalSync(ctx, st)
	}

	sum, err := st.monitor.ReconcileNow(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	log.Info().
		Int("scanned", sum.Scanned).
		Int("added", sum.Added).
		Int("removed", sum.Removed).
		Int("modified", sum.Modified).
		Int("moved", sum.Moved).
		Msg("sync complete")
	return nil
}

// runIncrementalSync assigns identifiers to keys that have none, leaving
// existing entries untouched even when their objects are gone.
func runIncrementalSync(ctx context.Context, st *stack) error {
	snap, err := st.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list bucket: %w", err)
	}
	m, err := st.maps.Load()
	if err != nil {
		return fmt.Errorf("load identifier map: %w", err)
	}

	created, err := reconcile.IndexNew(snap, m, st.gen)
	if err != nil {
		return err
	}
	if created > 0 {
		if err := st.maps.Save(m); err != nil {
			return fmt.Errorf("persist identifier map: %w", err)
		}
	}
	log.Info().
		Int("scanned", len(snap)).
		Int("created", created).
		Msg("incremental sync complete")
	return nil
}

func runExport() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fs := osfs.New(cfg.DataDir)
	maps := urimap.NewStore(fs, mapFile)
	m, err := maps.Load()
	if err != nil {
		return fmt.Errorf("load identifier map: %w", err)
	}

	baseURL := cfg.BaseURL
	if exportBaseURL != "" {
		baseURL = exportBaseURL
	}
	if baseURL == "" {
		baseURL = "/file/"
	}

	out, err := json.MarshalIndent(m.ExportURLs(baseURL), "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if exportOutput == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(exportOutput, out, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	log.Info().Str("path", exportOutput).Int("entries", m.Len()).Msg("exported permanent URLs")
	return nil
}
