package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-analyst-bot/config"
	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/api"
	"market-analyst-bot/internal/auth"
	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/chart"
	"market-analyst-bot/internal/database"
	"market-analyst-bot/internal/logging"
	"market-analyst-bot/internal/marketdata"
	"market-analyst-bot/internal/pipeline"
	"market-analyst-bot/internal/quota"
	"market-analyst-bot/internal/scheduler"
	"market-analyst-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs the response caches, quota state and job tracking.
	cacheService, err := cache.NewService(cfg.RedisConfig)
	if err != nil {
		logger.Fatal("failed to initialize cache", "error", err)
	}
	defer cacheService.Close()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}
	repo := database.NewRepository(db)

	authService, err := auth.NewService(repo, auth.Config{
		JWTSecret:           cfg.AuthConfig.JWTSecret,
		AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
		MinPasswordLength:   cfg.AuthConfig.MinPasswordLength,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize auth", "error", err)
	}
	if err := authService.SeedAdminUser(ctx); err != nil {
		logger.Warn("admin seeding failed", "error", err)
	}

	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	})
	if err != nil {
		logger.Fatal("failed to initialize vault client", "error", err)
	}

	fetcher := buildFetcher(ctx, cfg, cacheService, vaultClient, logger)
	engine := buildEngine(ctx, cfg, cacheService, vaultClient, logger)

	quotaController := quota.NewController(cacheService, repo, quota.Config{
		Timezone:        cfg.QuotaConfig.Timezone,
		FreeDailyLimit:  cfg.QuotaConfig.FreeDailyLimit,
		SubDailyLimit:   cfg.QuotaConfig.SubDailyLimit,
		MonthlyLimit:    cfg.QuotaConfig.MonthlyLimit,
		SubMonthlyLimit: cfg.QuotaConfig.SubMonthlyLimit,
	}, logger)

	renderer := chart.NewRenderClient(cfg.ChartConfig.RenderURL, cfg.ChartConfig.RenderTimeout)
	jobs := pipeline.NewJobStore(cacheService, cfg.SchedulerConfig.JobRetention)

	hub := api.NewWSHub(logger)
	go hub.Run()

	analyzer := pipeline.NewAnalyzer(fetcher, engine, quotaController, renderer, jobs, hub)

	maintenance := scheduler.New(ctx, jobs, repo, scheduler.Config{
		JobPruneCron:    cfg.SchedulerConfig.JobPruneCron,
		JobRetention:    cfg.SchedulerConfig.JobRetention,
		HealthCheckCron: cfg.SchedulerConfig.HealthCheckCron,
	}, logger)
	if err := maintenance.RegisterAll(); err != nil {
		logger.Fatal("failed to register maintenance tasks", "error", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, analyzer, authService, repo, cacheService, quotaController, jobs, hub, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}

// buildFetcher assembles the market data fallback chain in configured order.
func buildFetcher(ctx context.Context, cfg *config.Config, cacheService *cache.Service, vaultClient *vault.Client, logger *logging.Logger) *marketdata.Fetcher {
	var providers []marketdata.Provider
	for _, name := range cfg.MarketDataConfig.ProviderOrder {
		switch name {
		case "binance":
			providers = append(providers, marketdata.NewBinanceProvider(cfg.MarketDataConfig.BinanceBaseURL))
		case "coingecko":
			key, _ := vaultClient.ProviderKey(ctx, "coingecko")
			providers = append(providers, marketdata.NewCoinGeckoProvider(key))
		case "alphavantage":
			key, _ := vaultClient.ProviderKey(ctx, "alphavantage")
			providers = append(providers, marketdata.NewAlphaVantageProvider(key))
		case "quotefeed":
			providers = append(providers, marketdata.NewQuoteFeedProvider(cfg.MarketDataConfig.QuoteFeedURL))
		default:
			logger.Warn("unknown market data provider, skipping", "provider", name)
		}
	}

	respCache := cache.NewResponseCache(cacheService, cache.PrefixMarketData, cfg.MarketDataConfig.CacheTTL)
	return marketdata.NewFetcher(providers, respCache, marketdata.FetcherConfig{
		AttemptTimeout: cfg.MarketDataConfig.AttemptTimeout,
		MinCandles:     cfg.MarketDataConfig.MinCandles,
		DefaultLimit:   cfg.MarketDataConfig.DefaultLimit,
	}, logger)
}

// buildEngine assembles the generation fallback chain in configured order.
// Providers with no key stay in the chain; their attempts fail fast and the
// executor moves on.
func buildEngine(ctx context.Context, cfg *config.Config, cacheService *cache.Service, vaultClient *vault.Client, logger *logging.Logger) *llm.Engine {
	var providers []llm.Provider
	for _, name := range cfg.AIConfig.ProviderOrder {
		key, err := vaultClient.ProviderKey(ctx, name)
		if err != nil {
			logger.Warn("credential lookup failed", "provider", name, "error", err)
		}
		pc := llm.ProviderConfig{APIKey: key, Timeout: cfg.AIConfig.AttemptTimeout}

		switch name {
		case "claude":
			pc.Model = cfg.AIConfig.ClaudeModel
			providers = append(providers, llm.NewClaudeProvider(pc))
		case "openai":
			pc.Model = cfg.AIConfig.OpenAIModel
			providers = append(providers, llm.NewOpenAIProvider(pc))
		case "deepseek":
			pc.Model = cfg.AIConfig.DeepSeekModel
			providers = append(providers, llm.NewDeepSeekProvider(pc))
		case "gemini":
			pc.Model = cfg.AIConfig.GeminiModel
			providers = append(providers, llm.NewGeminiProvider(pc))
		default:
			logger.Warn("unknown AI provider, skipping", "provider", name)
		}
	}

	respCache := cache.NewResponseCache(cacheService, cache.PrefixGeneration, cfg.AIConfig.CacheTTL)
	return llm.NewEngine(providers, respCache, llm.EngineConfig{
		AttemptTimeout:    cfg.AIConfig.AttemptTimeout,
		TotalBudget:       cfg.AIConfig.TotalBudget,
		Temperature:       cfg.AIConfig.Temperature,
		RepairTemperature: cfg.AIConfig.RepairTemperature,
	}, logger)
}
