package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/billing"
	"github.com/codelaboratoryltd/radbill/pkg/coa"
	"github.com/codelaboratoryltd/radbill/pkg/lifecycle"
	"github.com/codelaboratoryltd/radbill/pkg/metrics"
	"github.com/codelaboratoryltd/radbill/pkg/nas"
	"github.com/codelaboratoryltd/radbill/pkg/radsync"
	"github.com/codelaboratoryltd/radbill/pkg/walledgarden"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "radbilld",
	Short: "Subscription lifecycle and RADIUS synchronization engine",
	Long: `radbilld keeps a billing database and a RADIUS AAA database
consistent, auto-renews subscriptions from balance, and disconnects or
redirects live NAS sessions when billing state changes.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync engine and scheduler",
	RunE:  runEngine,
}

var (
	configFile  string
	logLevel    string
	billingDSN  string
	aaaDSN      string
	metricsAddr string
	coaTimeout  time.Duration
)

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/radbill/config.yaml",
		"Configuration file path")
	runCmd.Flags().StringVarP(&logLevel, "log-level", "l", "",
		"Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&billingDSN, "billing-dsn", "",
		"Billing database DSN")
	runCmd.Flags().StringVar(&aaaDSN, "aaa-dsn", "",
		"RADIUS AAA database DSN")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Prometheus metrics listen address")
	runCmd.Flags().DurationVar(&coaTimeout, "coa-timeout", 0,
		"Per-call CoA disconnect timeout")

	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	// Flags override the file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if billingDSN != "" {
		cfg.BillingDSN = billingDSN
	}
	if aaaDSN != "" {
		cfg.AAADSN = aaaDSN
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if coaTimeout != 0 {
		cfg.CoATimeout = coaTimeout
	}
	if cfg.BillingDSN == "" || cfg.AAADSN == "" {
		return fmt.Errorf("billing and AAA DSNs are required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("radbilld starting",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	billingStore, err := billing.Open(cfg.BillingDSN)
	if err != nil {
		return fmt.Errorf("open billing store: %w", err)
	}
	defer billingStore.Close()

	aaaStore, err := aaa.Open(cfg.AAADSN)
	if err != nil {
		return fmt.Errorf("open AAA store: %w", err)
	}
	defer aaaStore.Close()

	// Site inventory lives alongside the billing records.
	siteStore := nas.NewPGStore(billingStore.DB())

	garden := walledgarden.NewProvisioner(aaaStore, walledgarden.Config{
		AddressList: cfg.WalledGarden.AddressList,
		RateLimit:   cfg.WalledGarden.RateLimit,
		RedirectURL: cfg.WalledGarden.RedirectURL,
	}, logger)
	if err := garden.EnsureGroups(cmd.Context()); err != nil {
		return err
	}

	m := metrics.New()
	syncEngine := radsync.NewEngine(aaaStore, logger)
	transport := coa.NewUDPTransport(cfg.CoATimeout, logger)
	disconnector := coa.NewDisconnector(aaaStore, siteStore, transport, logger)

	engine := lifecycle.NewEngine(lifecycle.Config{
		ChunkSize:    cfg.ChunkSize,
		SweepWorkers: cfg.SweepWorkers,
	}, billingStore, aaaStore, syncEngine, disconnector, m, logger)

	scheduler := lifecycle.NewScheduler(engine, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: m.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	scheduler.Stop()
	_ = metricsServer.Close()
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
