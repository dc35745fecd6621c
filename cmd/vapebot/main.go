// Command vapebot runs the vape reduction setup bot over WhatsApp, either as
// a linked device (whatsmeow) or through the Twilio API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ethangolledge/vapebot/internal/api"
	"github.com/ethangolledge/vapebot/internal/flow"
	"github.com/ethangolledge/vapebot/internal/lockfile"
	"github.com/ethangolledge/vapebot/internal/messaging"
	"github.com/ethangolledge/vapebot/internal/setup"
	"github.com/ethangolledge/vapebot/internal/store"
	"github.com/ethangolledge/vapebot/internal/twiliowhatsapp"
	"github.com/ethangolledge/vapebot/internal/util"
	"github.com/ethangolledge/vapebot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for vapebot state data
	DefaultStateDir = "/var/lib/vapebot"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "vapebot.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds the resolved process configuration.
type Config struct {
	StateDir    string
	DatabaseDSN string
	WhatsAppDSN string
	Transport   string
	APIAddr     string
	LogLevel    string

	QROutput    string
	NumericCode bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string

	SessionTTL    time.Duration
	SweepInterval time.Duration
}

func main() {
	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping vapebot", "transport", config.Transport, "state_dir", config.StateDir, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("vapebot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("vapebot exited successfully")
}

// initializeLogger sets up structured logging at the given level (default debug).
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:         os.Getenv("VAPEBOT_STATE_DIR"),
		DatabaseDSN:      os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		Transport:        strings.ToLower(os.Getenv("VAPEBOT_TRANSPORT")),
		APIAddr:          os.Getenv("API_ADDR"),
		LogLevel:         os.Getenv("VAPEBOT_LOG_LEVEL"),
		NumericCode:      util.ParseBoolEnv("VAPEBOT_WHATSAPP_NUMERIC_CODE", false),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		SessionTTL:       util.ParseDurationEnv("VAPEBOT_SESSION_TTL", flow.DefaultSessionTTL),
		SweepInterval:    util.ParseDurationEnv("VAPEBOT_SWEEP_INTERVAL", flow.DefaultSweepInterval),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Transport == "" {
		config.Transport = TransportWhatsApp
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	return config
}

// parseCommandLineFlags applies command line overrides on top of the
// environment, then fills database defaults from the final state directory.
func parseCommandLineFlags(args []string, config Config) (Config, error) {
	fs := flag.NewFlagSet("vapebot", flag.ContinueOnError)
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for vapebot data (overrides $VAPEBOT_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "application database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $VAPEBOT_TRANSPORT)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $VAPEBOT_LOG_LEVEL)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the WhatsApp pairing code instead of a QR code")
	fs.DurationVar(&config.SessionTTL, "session-ttl", config.SessionTTL, "how long an untouched setup conversation survives (overrides $VAPEBOT_SESSION_TTL)")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "how often expired sessions are cleaned up (overrides $VAPEBOT_SWEEP_INTERVAL)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	config.Transport = strings.ToLower(config.Transport)
	if config.Transport != TransportWhatsApp && config.Transport != TransportTwilio {
		return config, fmt.Errorf("unknown transport %q (want %s or %s)", config.Transport, TransportWhatsApp, TransportTwilio)
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	return config, nil
}

// openStore picks the SQL backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildTransport connects the configured messaging transport and returns the
// API options it needs.
func buildTransport(ctx context.Context, config Config) (messaging.Service, []api.Option, error) {
	switch config.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, []api.Option{
			api.WithTwilioWebhook(svc),
			api.WithTwilioAuthToken(config.TwilioAuthToken),
			api.WithWebhookURL(config.TwilioWebhookURL),
		}, nil
	case TransportWhatsApp:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", config.Transport)
	}
}

// run wires every component and blocks until ctx is cancelled or one fails.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc, apiOpts, err := buildTransport(ctx, config)
	if err != nil {
		return err
	}
	return serve(ctx, config, st, svc, apiOpts)
}

// serve runs the router, janitor and API server until ctx is done.
func serve(ctx context.Context, config Config, st store.Store, svc messaging.Service, apiOpts []api.Option) error {
	setups := setup.NewManager(st)
	wizard := flow.NewWizard(setups, flow.NewStoreBasedStateManager(st), flow.WithArchive(st))
	router := messaging.NewRouter(svc, wizard, messaging.WithDedup(st))
	janitor := flow.NewJanitor(wizard, config.SessionTTL, config.SweepInterval, flow.WithInboundPruning(st))
	server := api.NewServer(setups, append([]api.Option{api.WithAddr(config.APIAddr)}, apiOpts...)...)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer svc.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}
