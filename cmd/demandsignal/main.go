package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/demandsignal/internal/brandview"
	"github.com/rewired-gh/demandsignal/internal/config"
	"github.com/rewired-gh/demandsignal/internal/logger"
	"github.com/rewired-gh/demandsignal/internal/privacy"
	"github.com/rewired-gh/demandsignal/internal/ranking"
	"github.com/rewired-gh/demandsignal/internal/ratelimit"
	"github.com/rewired-gh/demandsignal/internal/storage"
)

const usage = `usage: demandsignal [-config path] <command> [flags]

commands:
  rank     score every campaign and log the top-K (scheduled, or -once)
  view     print the brand-safe view of a campaign as JSON
  import   load campaigns, interest records, pledges and brand members from JSON
`

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "rank":
		err = runRank(ctx, cfg, store, args)
	case "view":
		err = runView(ctx, cfg, store, args)
	case "import":
		err = runImport(ctx, store, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("%s failed: %v", flag.Arg(0), err)
		os.Exit(1)
	}
}

func runRank(ctx context.Context, cfg *config.Config, store *storage.Storage, args []string) error {
	fs := flag.NewFlagSet("rank", flag.ExitOnError)
	once := fs.Bool("once", false, "Rank once and exit instead of following the schedule")
	topK := fs.Int("k", cfg.Ranking.TopK, "Number of campaigns to report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ranker := ranking.New(store, cfg.SignalConfig())

	if *once {
		return runRankingCycle(ctx, ranker, *topK, time.Now())
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Ranking.Schedule, func() {
		if err := runRankingCycle(ctx, ranker, *topK, time.Now()); err != nil {
			logger.Error("Ranking cycle failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ranking: %w", err)
	}

	logger.Info("Starting ranking service (schedule: %q, top_k: %d)", cfg.Ranking.Schedule, *topK)

	// Run initial cycle immediately
	if err := runRankingCycle(ctx, ranker, *topK, time.Now()); err != nil {
		logger.Error("Ranking cycle failed: %v", err)
	}

	c.Start()
	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for running cycle...")
	<-c.Stop().Done()
	logger.Info("Service stopped")
	return nil
}

func runRankingCycle(ctx context.Context, ranker *ranking.Ranker, k int, now time.Time) error {
	startTime := time.Now()

	ranked, rankErrors, err := ranker.Rank(ctx, now, k)
	if err != nil {
		return err
	}
	for _, re := range rankErrors {
		logger.Warn("%v", re)
	}

	for i, rc := range ranked {
		logger.Info("#%d %s %q score=%.2f class=%s sample=%d rejected=%.0f%%",
			i+1, rc.CampaignID, rc.Title, rc.Signal.Score, rc.Signal.Classification,
			rc.Signal.SampleSize, rc.Signal.RejectionRate*100)
	}

	promotions := ranker.Promotions(ranked)
	for _, p := range promotions {
		logger.Info("Campaign %s %q moved %s -> %s (score %.2f)", p.CampaignID, p.Title, p.From, p.To, p.Score)
	}
	ranker.RecordClassifications(ranked)

	logger.Info("Ranking cycle completed in %v (%d ranked, %d promoted, %d errors)",
		time.Since(startTime), len(ranked), len(promotions), len(rankErrors))
	return nil
}

func runView(ctx context.Context, cfg *config.Config, store *storage.Storage, args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	userID := fs.String("user", "", "Requesting brand user ID")
	campaignID := fs.String("campaign", "", "Campaign ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *campaignID == "" {
		return fmt.Errorf("-user and -campaign are required")
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	agg := privacy.NewAggregator(cfg.PrivacyConfig(), store)
	svc := brandview.New(store, agg, limiter, cfg.SignalConfig())

	view, err := svc.CampaignView(ctx, *userID, *campaignID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	if cfg.Backend != "redis" {
		return ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window, nil), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client: %v", err)
		}
	}
	logger.Debug("Using redis rate limiter at %s", cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(client, cfg.Limit, cfg.Window), closeFn, nil
}

func runImport(ctx context.Context, store *storage.Storage, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	path := fs.String("file", "", "Path to dataset JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-file is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := storage.DecodeDataset(f)
	if err != nil {
		return err
	}
	st, err := store.Import(ctx, ds)
	if err != nil {
		return err
	}
	logger.Info("Imported %d campaigns, %d interest records, %d pledges, %d brand members",
		st.Campaigns, st.Interests, st.Pledges, st.BrandMembers)
	return nil
}
