package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/exchange"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/logger"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/notify"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/state"
	"github.com/arlov/crypto_trade_bot/internal/infrastructure/storage"
	"github.com/arlov/crypto_trade_bot/internal/usecase"
	"github.com/arlov/crypto_trade_bot/internal/web"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Asset     string `yaml:"asset"`
	Exchanges []struct {
		Name         string `yaml:"name"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchanges"`
	Trading struct {
		FeePct           float64   `yaml:"fee_pct"`
		TickIntervalSec  int       `yaml:"tick_interval_sec"`
		HeartbeatMin     int       `yaml:"heartbeat_min"`
		Timezone         string    `yaml:"timezone"`
		StopFile         string    `yaml:"stop_file"`
		CapitalBufferPct float64   `yaml:"capital_buffer_pct"`
		MinLiquidityUSD  float64   `yaml:"min_liquidity_usd"`
		TrancheTargets   []float64 `yaml:"tranche_targets"`
		TrancheFractions []float64 `yaml:"tranche_fractions"`
	} `yaml:"trading"`
	Strategy struct {
		EntryHour        int     `yaml:"entry_hour"`
		EntryWindowMin   int     `yaml:"entry_window_min"`
		MaxEntryPriceUSD float64 `yaml:"max_entry_price_usd"`
		TrailingStopPct  float64 `yaml:"trailing_stop_pct"`
	} `yaml:"strategy"`
	Risk struct {
		MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		MaxDataAgeMin        int     `yaml:"max_data_age_min"`
	} `yaml:"risk"`
	DeadToken struct {
		MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
		MinFDVUSD       float64 `yaml:"min_fdv_usd"`
	} `yaml:"dead_token"`
	State struct {
		Dir              string `yaml:"dir"`
		DBPath           string `yaml:"db_path"`
		SkipStartConfirm bool   `yaml:"skip_start_confirm"`
	} `yaml:"state"`
	Telegram struct {
		ChatID string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// credentialsFor reads exchange API credentials from the environment:
// <NAME>_API_KEY / <NAME>_API_SECRET. Secrets never live in the yaml file.
func credentialsFor(name string) (key, secret string, err error) {
	prefix := strings.ToUpper(name)
	key = os.Getenv(prefix + "_API_KEY")
	secret = os.Getenv(prefix + "_API_SECRET")
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("missing %s_API_KEY or %s_API_SECRET in environment", prefix, prefix)
	}
	return key, secret, nil
}

func main() {
	// 1. Load Config + env
	_ = godotenv.Load()

	configPath := "config/config.yaml"
	if v := os.Getenv("BOT_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.State.DBPath
	if dbPath == "" {
		dbPath = "bot.db"
	}
	journal, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer journal.Close()

	stateDir := cfg.State.Dir
	if stateDir == "" {
		stateDir = "data"
	}
	stateStore, err := state.NewStore(stateDir, log)
	if err != nil {
		log.Fatal("Failed to init state store", zap.Error(err))
	}

	// 4. Init Exchange
	if len(cfg.Exchanges) == 0 {
		log.Fatal("No exchanges configured")
	}
	primary := cfg.Exchanges[0]
	apiKey, apiSecret, err := credentialsFor(primary.Name)
	if err != nil {
		log.Fatal("Missing exchange credentials", zap.Error(err))
	}
	adapter := exchange.NewBybitAdapter(apiKey, apiSecret, primary.RESTEndpoint, primary.WSEndpoint, log)

	tokenInfo := exchange.NewDexScreenerClient("", log)

	// 5. Init Notifier
	notifier := notify.NewTelegramNotifier(os.Getenv("TELEGRAM_BOT_TOKEN"), cfg.Telegram.ChatID, "", log)
	if !notifier.Enabled() {
		log.Warn("Telegram disabled, notifications go to the log only")
	}

	// 6. Build the bot
	strategy, err := usecase.NewTrailingStopStrategy(usecase.TrailingStopConfig{
		EntryHour:        cfg.Strategy.EntryHour,
		EntryWindowMin:   cfg.Strategy.EntryWindowMin,
		MaxEntryPriceUSD: cfg.Strategy.MaxEntryPriceUSD,
		TrailingStopPct:  cfg.Strategy.TrailingStopPct,
		Timezone:         cfg.Trading.Timezone,
	})
	if err != nil {
		log.Fatal("Failed to build strategy", zap.Error(err))
	}
	gate := usecase.NewRiskGate(usecase.RiskConfig{
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxDataAge:           time.Duration(cfg.Risk.MaxDataAgeMin) * time.Minute,
	})

	// Endpoints for credential switching reuse the primary exchange's URLs.
	credFactory := func(name string) (domain.Exchange, error) {
		key, secret, err := credentialsFor(name)
		if err != nil {
			return nil, err
		}
		return exchange.NewBybitAdapter(key, secret, primary.RESTEndpoint, primary.WSEndpoint, log), nil
	}

	bot, err := usecase.NewBot(usecase.BotConfig{
		Asset:                cfg.Asset,
		FeeRate:              cfg.Trading.FeePct / 100,
		TickInterval:         time.Duration(cfg.Trading.TickIntervalSec) * time.Second,
		HeartbeatInterval:    time.Duration(cfg.Trading.HeartbeatMin) * time.Minute,
		Timezone:             cfg.Trading.Timezone,
		StopFile:             cfg.Trading.StopFile,
		CapitalBufferPct:     cfg.Trading.CapitalBufferPct,
		TrancheTargets:       cfg.Trading.TrancheTargets,
		TrancheFractions:     cfg.Trading.TrancheFractions,
		MinEntryLiquidityUSD: cfg.Trading.MinLiquidityUSD,
		DeadToken: usecase.DeadTokenConfig{
			MinLiquidityUSD: cfg.DeadToken.MinLiquidityUSD,
			MinFDVUSD:       cfg.DeadToken.MinFDVUSD,
		},
	}, usecase.BotDeps{
		Exchange:    adapter,
		Gate:        gate,
		Strategy:    strategy,
		Store:       stateStore,
		Trades:      journal,
		TokenInfo:   tokenInfo,
		Notifier:    notifier,
		Logger:      log,
		Credentials: credFactory,
	})
	if err != nil {
		log.Fatal("Failed to build bot", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Restore state (with operator confirmation on corruption)
	if err := bot.Restore(ctx); err != nil {
		if errors.Is(err, domain.ErrStateCorrupt) {
			if !confirmColdStart(cfg.State.SkipStartConfirm, err) {
				log.Fatal("Refusing to start over corrupt state", zap.Error(err))
			}
			log.Warn("Starting with fresh state over corrupt files", zap.Error(err))
			if err := bot.ColdStart(ctx); err != nil {
				log.Fatal("Cold start failed", zap.Error(err))
			}
		} else {
			log.Fatal("Failed to restore state", zap.Error(err))
		}
	}

	// 8. Stream prices between ticks
	adapter.OnPriceUpdate(func(symbol string, price float64) {
		if symbol == cfg.Asset {
			bot.ObservePrice(price, time.Now().UTC())
		}
	})
	if err := adapter.Subscribe([]string{cfg.Asset}); err != nil {
		log.Warn("Websocket subscribe failed, ticks will use REST only", zap.Error(err))
	}

	// 9. Commands: chat long-poll + web control share one channel
	commands := make(chan domain.Command, 8)
	router := usecase.NewCommandRouter(notifier, notifier, cfg.Telegram.ChatID, log)
	go router.Run(ctx, commands)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, bot, journal, commands, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 10. Run until signalled
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		bot.Run(ctx, commands)
		close(done)
	}()

	notifier.Send(fmt.Sprintf("Bot started: %s (%s)", cfg.Asset, strategy.Name()))

	select {
	case <-stop:
		log.Info("Shutting down...")
		cancel()
		<-done
	case <-done:
		log.Info("Bot loop finished")
	}

	adapter.CloseWS()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// confirmColdStart asks the operator whether to discard corrupt state and
// start flat. Non-interactive deployments set skip_start_confirm instead.
func confirmColdStart(skip bool, cause error) bool {
	if skip {
		return true
	}
	fmt.Printf("State files are corrupt (%v).\nStart with fresh state? Any open position will NOT be tracked. [y/N]: ", cause)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
