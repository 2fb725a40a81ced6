package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"perpagent/config"
	"perpagent/internal/adapters/advisor"
	"perpagent/internal/adapters/binanceclient"
	"perpagent/internal/adapters/logger"
	"perpagent/internal/adapters/sentiment"
	"perpagent/internal/adapters/sqlite"
	"perpagent/internal/adapters/telegram"
	"perpagent/internal/app"
	"perpagent/internal/candles"
	"perpagent/internal/ledger"
	"perpagent/internal/ports"
	"perpagent/internal/risk"
	"perpagent/internal/scheduler"
	"perpagent/internal/stream"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		appLogger = logger.NewZerologLogger(cfg.LogLevel)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Market Data Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		CandleWindow: cfg.CandleWindow,
		Logger:       appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Decision Provider (Advisor Adapter)
	advisorClient, err := advisor.New(advisor.Config{
		URL:         cfg.AdvisorURL,
		APIKey:      cfg.AdvisorAPIKey,
		Model:       cfg.AdvisorModel,
		MaxLeverage: cfg.MaxLeverage,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize advisor client")
		log.Fatalf("FATAL: Failed to initialize advisor client: %v", err)
	}

	// 6. Initialize Sentiment Feed
	sentimentClient, err := sentiment.New(sentiment.Config{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize sentiment client")
		log.Fatalf("FATAL: Failed to initialize sentiment client: %v", err)
	}

	// 7. Initialize Notifier (optional)
	var notifier ports.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := telegram.New(telegram.Config{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		notifier = tg
	} else {
		appLogger.Info(context.Background(), "Telegram not configured, notifications disabled")
	}

	// 8. Initialize Core Components
	ldgr, err := ledger.New(ledger.Config{
		InitialBalance: cfg.InitialBalance,
		FeeRate:        cfg.FeeRate,
		Logger:         appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position ledger")
		log.Fatalf("FATAL: Failed to initialize position ledger: %v", err)
	}

	riskMgr, err := risk.NewManager(risk.Config{
		StopLossPct:   cfg.StopLossPct,
		TakeProfitPct: cfg.TakeProfitPct,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	agg := candles.New(cfg.CandleWindow, candles.DefaultMaxHistory, appLogger)

	priceStream, err := stream.New(stream.Config{
		Feed:              binanceClient,
		Logger:            appLogger,
		ReconnectDelay:    cfg.ReconnectDelay,
		ConnectRetryDelay: cfg.ConnectRetryDelay,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize price stream")
		log.Fatalf("FATAL: Failed to initialize price stream: %v", err)
	}

	// 9. Initialize Application Service and Scheduler
	service, err := app.NewService(cfg, appLogger, binanceClient, priceStream, agg, ldgr, repo, notifier)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize application service")
		log.Fatalf("FATAL: Failed to initialize application service: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Basket:         cfg.Basket,
		Interval:       cfg.AnalysisInterval,
		AssetsPerCycle: cfg.AssetsPerCycle,
		RiskPerTrade:   cfg.RiskPerTrade,
		MaxLeverage:    cfg.MaxLeverage,
		MinConfidence:  cfg.MinConfidence,
		ReportChance:   cfg.ReportChance,
	}, scheduler.Deps{
		Logger:    appLogger,
		Ledger:    ldgr,
		Risk:      riskMgr,
		Provider:  advisorClient,
		Market:    service,
		Sentiment: sentimentClient,
		News:      service.News(),
		Trades:    repo,
		Status:    repo,
		Notifier:  notifier,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision scheduler")
		log.Fatalf("FATAL: Failed to initialize decision scheduler: %v", err)
	}
	service.AttachScheduler(sched)

	// 10. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading agent exited with error")
		log.Fatalf("FATAL: Trading agent exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
