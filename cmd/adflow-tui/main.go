package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"adflow/internal/backend"
	"adflow/internal/logging"
	"adflow/internal/metrics"
	"adflow/internal/retry"
	"adflow/internal/run"
)

const defaultAPIURL = "http://127.0.0.1:8000/api"

type appConfig struct {
	apiURL           string
	appName          string
	userID           string
	requestTimeout   time.Duration
	preflight        bool
	preview          bool
	autoDelivery     bool
	retryAttempts    int
	retryTimeout     time.Duration
	healthAttempts   int
	healthInterval   time.Duration
	deliveryAttempts int
	deliveryInterval time.Duration
	downloadDir      string
	briefFile        string
	logFile          string
	logLevel         string
	logFormat        string
	metricsAddr      string
	launcher         bool
	altScreen        bool
}

func parseFlags() appConfig {
	cfg := appConfig{}
	flag.StringVar(&cfg.apiURL, "api-url", envOr("ADFLOW_API_URL", defaultAPIURL), "Agent backend base URL")
	flag.StringVar(&cfg.appName, "app-name", envOr("ADFLOW_APP_NAME", backend.DefaultAppName), "Agent app name used in session paths")
	flag.StringVar(&cfg.userID, "user-id", envOr("ADFLOW_USER_ID", backend.DefaultUserID), "User id used in session paths")
	requestTimeoutSeconds := envOrInt("ADFLOW_REQUEST_TIMEOUT", 30)
	flag.IntVar(&requestTimeoutSeconds, "request-timeout", requestTimeoutSeconds, "Per-request timeout seconds (the run stream is unbounded)")
	flag.BoolVar(&cfg.preflight, "preflight", envOrBool("ADFLOW_PREFLIGHT", true), "Validate the first message of a session with /run_preflight")
	flag.BoolVar(&cfg.preview, "preview", envOrBool("ADFLOW_PREVIEW", true), "Fetch the ads preview once delivery is ready")
	flag.BoolVar(&cfg.autoDelivery, "auto-delivery", envOrBool("ADFLOW_AUTO_DELIVERY", true), "Poll delivery metadata after each successful run")
	flag.IntVar(&cfg.retryAttempts, "retry-attempts", envOrInt("ADFLOW_RETRY_ATTEMPTS", retry.DefaultMaxAttempts), "Max attempts for session create and run start")
	retryTimeoutSeconds := envOrInt("ADFLOW_RETRY_TIMEOUT", int(retry.DefaultMaxDuration.Seconds()))
	flag.IntVar(&retryTimeoutSeconds, "retry-timeout", retryTimeoutSeconds, "Overall retry budget seconds")
	flag.IntVar(&cfg.healthAttempts, "health-attempts", envOrInt("ADFLOW_HEALTH_ATTEMPTS", run.DefaultHealthAttempts), "Backend liveness probes before giving up")
	healthIntervalSeconds := envOrInt("ADFLOW_HEALTH_INTERVAL", int(run.DefaultHealthInterval.Seconds()))
	flag.IntVar(&healthIntervalSeconds, "health-interval", healthIntervalSeconds, "Seconds between liveness probes")
	flag.IntVar(&cfg.deliveryAttempts, "delivery-attempts", envOrInt("ADFLOW_DELIVERY_ATTEMPTS", run.DefaultDeliveryAttempts), "Delivery metadata checks per run")
	deliveryIntervalSeconds := envOrInt("ADFLOW_DELIVERY_INTERVAL", int(run.DefaultDeliveryInterval.Seconds()))
	flag.IntVar(&deliveryIntervalSeconds, "delivery-interval", deliveryIntervalSeconds, "Seconds between delivery metadata checks")
	flag.StringVar(&cfg.downloadDir, "download-dir", envOr("ADFLOW_DOWNLOAD_DIR", "."), "Directory for /download")
	flag.StringVar(&cfg.briefFile, "brief", envOr("ADFLOW_BRIEF", ""), "Optional YAML brief loaded into the wizard at startup")
	flag.StringVar(&cfg.logFile, "log-file", envOr("ADFLOW_LOG_FILE", logging.DefaultPath()), "Log file path (- for stderr)")
	flag.StringVar(&cfg.logLevel, "log-level", envOr("ADFLOW_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	flag.StringVar(&cfg.logFormat, "log-format", envOr("ADFLOW_LOG_FORMAT", "text"), "Log format (text|json)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", envOr("ADFLOW_METRICS_ADDR", ""), "Optional listen address for /metrics")
	launcherDefault := envOrBool("ADFLOW_TUI_LAUNCHER", true)
	flag.BoolVar(&cfg.launcher, "launcher", launcherDefault, "Show startup launcher menu")
	noLauncher := envOrBool("ADFLOW_TUI_NO_LAUNCHER", false)
	flag.BoolVar(&noLauncher, "no-launcher", noLauncher, "Disable launcher and open chat input immediately")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "Use alternate screen buffer")
	flag.Parse()

	cfg.apiURL = strings.TrimRight(strings.TrimSpace(cfg.apiURL), "/")
	if cfg.apiURL == "" {
		cfg.apiURL = defaultAPIURL
	}
	cfg.requestTimeout = time.Duration(clampInt(requestTimeoutSeconds, 1, 300)) * time.Second
	cfg.retryAttempts = clampInt(cfg.retryAttempts, 1, 50)
	cfg.retryTimeout = time.Duration(clampInt(retryTimeoutSeconds, 5, 1800)) * time.Second
	cfg.healthAttempts = clampInt(cfg.healthAttempts, 1, 1000)
	cfg.healthInterval = time.Duration(clampInt(healthIntervalSeconds, 1, 60)) * time.Second
	cfg.deliveryAttempts = clampInt(cfg.deliveryAttempts, 1, 500)
	cfg.deliveryInterval = time.Duration(clampInt(deliveryIntervalSeconds, 1, 60)) * time.Second
	if noLauncher {
		cfg.launcher = false
	}
	return cfg
}

func main() {
	_ = godotenv.Load(".env")
	cfg := parseFlags()

	logOut, err := logging.Open(cfg.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adflow-tui: open log file: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logOut, logging.FromConfig(cfg.logLevel, cfg.logFormat))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	meter := metrics.New()
	meter.Serve(ctx, cfg.metricsAddr, logger)

	client := backend.New(backend.Options{
		BaseURL:        cfg.apiURL,
		AppName:        cfg.appName,
		UserID:         cfg.userID,
		RequestTimeout: cfg.requestTimeout,
		Logger:         logger,
	})
	logger.Info("starting adflow-tui", "api", client.BaseURL(), "app", client.AppName(), "user", client.UserID())

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(ctx, cfg, client, logger, meter), opts...)
	_, err = p.Run()
	cancel()
	if err != nil {
		logger.Error("program exited", "err", err)
		_ = logOut.Close()
		fmt.Fprintf(os.Stderr, "adflow-tui fatal error: %v\n", err)
		os.Exit(1)
	}
	_ = logOut.Close()
}
