package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/bot"
	"github.com/akaravas/hypetrader/internal/clients/alpaca"
	"github.com/akaravas/hypetrader/internal/clients/reddit"
	"github.com/akaravas/hypetrader/internal/config"
	"github.com/akaravas/hypetrader/internal/journal"
	"github.com/akaravas/hypetrader/internal/perf"
	"github.com/akaravas/hypetrader/internal/reliability"
	"github.com/akaravas/hypetrader/internal/sentiment"
	"github.com/akaravas/hypetrader/internal/server"
	"github.com/akaravas/hypetrader/pkg/logger"
)

const (
	backupSchedule      = "@daily"
	backupRetentionDays = 30
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("Invalid configuration, refusing to start")
		return 1
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Bool("paper_trading", cfg.Trading.PaperTrading).
		Str("subreddit", cfg.Sentiment.Subreddit).
		Msg("Starting hypetrader")

	db, err := journal.OpenDB(filepath.Join(cfg.DataDir, "journal.db"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open journal database")
		return 1
	}
	defer db.Close()

	jrnl := journal.New(db, log)
	errlog := journal.NewErrorLog(filepath.Join(cfg.DataDir, "errors.json"))

	broker := alpaca.NewClient(alpaca.Config{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
	}, log)

	stream := alpaca.NewStream(alpaca.StreamConfig{
		URL:       cfg.Alpaca.StreamURL,
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
	}, log)

	chatter := reddit.NewClient(reddit.Config{
		Subreddit:   cfg.Sentiment.Subreddit,
		PostLimit:   cfg.Sentiment.PostLimit,
		WindowHours: cfg.Sentiment.WindowHours,
	}, log)

	b := bot.New(cfg, bot.Deps{
		Broker:   broker,
		Stream:   stream,
		Chatter:  chatter,
		Analyzer: sentiment.NewAnalyzer(),
		Journal:  jrnl,
		Errors:   errlog,
	}, log)

	srv := server.New(cfg.Port, server.Deps{
		Bot:       b,
		Positions: b.Positions(),
		Watchlist: b.Watchlist(),
		History:   jrnl,
		Errors:    errlog,
		Perf:      perf.NewTracker(jrnl),
	}, cfg.DevMode, log)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops, err := startBackups(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start backup service")
		return 1
	}
	if ops != nil {
		defer ops.Stop()
	}

	runErr := b.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Bot stopped on fatal error")
		return 1
	}
	log.Info().Msg("Bot stopped cleanly")
	return 0
}

// startBackups wires the optional off-box backup cycle. Disabled when
// no bucket is configured.
func startBackups(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*bot.Scheduler, error) {
	if cfg.Backup.Bucket == "" {
		return nil, nil
	}

	store, err := reliability.NewS3Client(ctx, reliability.S3Config{
		Bucket:    cfg.Backup.Bucket,
		Endpoint:  cfg.Backup.Endpoint,
		Region:    cfg.Backup.Region,
		AccessKey: cfg.Backup.AccessKey,
		SecretKey: cfg.Backup.SecretKey,
	}, log)
	if err != nil {
		return nil, err
	}
	backups := reliability.NewBackupService(store, cfg.DataDir, log)

	ops := bot.NewScheduler(log, nil)
	err = ops.AddJob(backupSchedule, backupJob{backups})
	if err != nil {
		return nil, err
	}
	ops.Start()
	return ops, nil
}

type backupJob struct {
	backups *reliability.BackupService
}

func (j backupJob) Name() string { return "s3_backup" }

func (j backupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.backups.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.backups.RotateOldBackups(ctx, backupRetentionDays)
}
