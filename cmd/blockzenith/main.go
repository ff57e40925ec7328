package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockzenith/scanner/internal/calendar"
	"github.com/blockzenith/scanner/internal/config"
	"github.com/blockzenith/scanner/internal/detector"
	"github.com/blockzenith/scanner/internal/dhan"
	"github.com/blockzenith/scanner/internal/ledger"
	"github.com/blockzenith/scanner/internal/logger"
	"github.com/blockzenith/scanner/internal/scanner"
	"github.com/blockzenith/scanner/internal/session"
	"github.com/blockzenith/scanner/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	alertLedger, err := ledger.New(cfg.Ledger.DBPath, ledger.Policy(cfg.Ledger.DedupPolicy))
	if err != nil {
		logger.Fatal("Failed to initialize alert ledger: %v", err)
	}
	defer func() {
		if err := alertLedger.Close(); err != nil {
			logger.Error("Failed to close alert ledger: %v", err)
		}
	}()

	cal, err := calendar.New(cfg.Calendar.Timezone, cfg.Calendar.Open, cfg.Calendar.Close, cfg.Calendar.WeekdaysOnly)
	if err != nil {
		logger.Fatal("Failed to initialize market calendar: %v", err)
	}

	dhanClient := dhan.NewClient(cfg.Dhan.BaseURL, cfg.Dhan.ClientID, cfg.Dhan.Timeout, cal.Location())

	telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChannelID)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram client: %v", err)
	}
	logger.Info("Telegram client initialized successfully")

	sessions := session.NewManager()

	scan := scanner.New(
		scanner.Config{
			Instruments:    cfg.Instruments,
			IdleInterval:   cfg.Scanner.IdleInterval,
			ClosedInterval: cfg.Scanner.ClosedInterval,
			CycleInterval:  cfg.Scanner.CycleInterval,
			PacingInterval: cfg.Scanner.PacingInterval,
			BackoffBase:    cfg.Scanner.BackoffBase,
			BackoffCap:     cfg.Scanner.BackoffCap,
		},
		sessions,
		cal,
		dhanClient,
		detector.New(detector.Config{
			Mode:                detector.Mode(cfg.Detector.Mode),
			VolumeThreshold:     cfg.Detector.VolumeThreshold,
			OIThreshold:         cfg.Detector.OIThreshold,
			VolumeJumpThreshold: cfg.Detector.VolumeJumpThreshold,
			OIJumpThreshold:     cfg.Detector.OIJumpThreshold,
		}),
		alertLedger,
		telegramClient,
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Arming a fresh token starts a new trading session: the ledger is
	// cleared so today's flow is detected from scratch.
	arm := func(token string) {
		sessions.Set(token)
		if err := alertLedger.Reset(); err != nil {
			logger.Error("Failed to reset alert ledger on arming: %v", err)
		}
		logger.Info("Scanner armed with a fresh access token")
	}
	status := func() string {
		n, err := alertLedger.Count()
		if err != nil {
			logger.Warn("Failed to count ledger entries for status: %v", err)
		}
		report := fmt.Sprintf("State: %s\nAlerts this session: %d", scan.State(), n)
		if armedAt := sessions.ArmedAt(); !armedAt.IsZero() {
			report += fmt.Sprintf("\nArmed at: %s", armedAt.In(cal.Location()).Format(time.RFC3339))
		}
		return report
	}
	telegramClient.ListenForUpdates(ctx, cfg.Telegram.MinCredentialLen, arm, status)

	startLivenessServer(ctx, cfg.Server.Port)

	logger.Info("Starting scanner service (instruments: %d, cycle: %v, dedup: %s, mode: %s)",
		len(cfg.Instruments),
		cfg.Scanner.CycleInterval,
		cfg.Ledger.DedupPolicy,
		cfg.Detector.Mode,
	)

	scan.Run(ctx)
	logger.Info("Service stopped")
}

// startLivenessServer answers uptime probes on the configured port.
func startLivenessServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Block Zenith Scanner Active")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Liveness endpoint listening on :%d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Liveness server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Liveness server shutdown: %v", err)
		}
	}()
}
