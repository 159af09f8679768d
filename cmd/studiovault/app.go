package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/backupindex"
	"github.com/fruitsalade/studiovault/internal/catalog/postgres"
	"github.com/fruitsalade/studiovault/internal/config"
	"github.com/fruitsalade/studiovault/internal/deletion"
	"github.com/fruitsalade/studiovault/internal/derivative"
	"github.com/fruitsalade/studiovault/internal/ingest"
	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/objstore"
	"github.com/fruitsalade/studiovault/internal/usage"
)

// app is the wired component graph shared by every subcommand.
type app struct {
	cfg       *config.Config
	db        *postgres.Store
	store     *objstore.Client
	resolver  *keys.Resolver
	manifests *backupindex.Manager
	deleter   *deletion.Orchestrator
	verifier  *deletion.Verifier
	usage     *usage.Calculator
	uploader  *ingest.Uploader
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	rules, err := config.LoadCleanupRules(cfg.CleanupRulesFile)
	if err != nil {
		return nil, err
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if dir := findMigrationsDir(cfg.MigrationsDir); dir != "" {
		if err := db.Migrate(dir); err != nil {
			db.Close()
			return nil, err
		}
	}

	primary, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	opts := objstore.ClientOptions{RetryBackoff: cfg.RetryBackoff}
	if cfg.FallbackEnabled {
		fallback, err := objstore.NewLocalStore(cfg.LocalStoragePath)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts.Fallback = fallback
	}
	store := objstore.NewClient(primary, opts)
	if err := store.Probe(ctx); err != nil {
		db.Close()
		return nil, err
	}

	resolver := keys.NewResolver(store, db)
	manifests := backupindex.NewManager(store, resolver, db)

	logging.Info("studiovault ready",
		zap.String("bucket", cfg.S3Bucket),
		zap.String("store_health", store.Health().String()),
		zap.Int("cleanup_rules", len(rules)))

	return &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		resolver:  resolver,
		manifests: manifests,
		deleter: deletion.New(db, store, manifests, deletion.Options{
			Rules:       rules,
			Concurrency: cfg.BatchConcurrency,
		}),
		verifier: deletion.NewVerifier(db, store, manifests, resolver, rules),
		usage:    usage.NewCalculator(store, resolver, cfg.QuotaWarnRatio),
		uploader: ingest.NewUploader(db, store, resolver, manifests, derivative.NewGenerator(store)),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		logging.Warn("close database", zap.Error(err))
	}
	logging.Sync()
}

func findMigrationsDir(configured string) string {
	candidates := []string{configured, "migrations", "../migrations"}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

// withApp wraps a subcommand body with the wired app.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logging.SetLevel("debug")
		}
		cmd.SetContext(logging.WithFields(cmd.Context(), zap.String("command", cmd.Name())))
		return run(cmd, a, args)
	}
}
