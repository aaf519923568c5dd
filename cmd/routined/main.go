package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/neurospicy/routinekit/internal/api"
	"github.com/neurospicy/routinekit/internal/events"
	"github.com/neurospicy/routinekit/internal/lockfile"
	"github.com/neurospicy/routinekit/internal/messaging"
	"github.com/neurospicy/routinekit/internal/recovery"
	"github.com/neurospicy/routinekit/internal/routine"
	"github.com/neurospicy/routinekit/internal/scheduler"
	"github.com/neurospicy/routinekit/internal/store"
	"github.com/neurospicy/routinekit/internal/templates"
	"github.com/neurospicy/routinekit/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for routined state data
	DefaultStateDir = "/var/lib/routined"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "routined.db"
	// ShutdownTimeout bounds graceful shutdown of the API server
	ShutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		slog.Error("Invalid timezone", "error", err, "timezone", *flags.timezone)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flags.templatesDir != "" {
		n, err := templates.LoadDirectory(ctx, *flags.templatesDir, st)
		if err != nil {
			slog.Error("Failed to load routine templates", "error", err, "dir", *flags.templatesDir)
			os.Exit(1)
		}
		slog.Info("Routine templates loaded", "count", n, "dir", *flags.templatesDir)
	}

	messenger, err := buildMessenger(flags)
	if err != nil {
		slog.Error("Failed to configure messaging", "error", err)
		os.Exit(1)
	}
	defer messenger.Stop()
	if err := messenger.Start(ctx); err != nil {
		slog.Error("Failed to start messaging", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	sched := scheduler.NewRoutineScheduler(bus, st, scheduler.WithLocation(loc))
	engine := routine.NewEngine(st, st, st, st, st, messenger, sched, bus, routine.WithLocation(loc))
	engine.RegisterHandlers(bus)

	bus.Start(ctx)
	sched.Start()

	recoverer := recovery.NewRecoverer(st, st, sched)
	if _, err := recoverer.RecoverAll(ctx); err != nil {
		slog.Error("Schedule recovery failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(engine, st, st, st, st, bus, buildAPIOptions(flags)...)
	server.Start()

	slog.Info("routined is running", "api_addr", *flags.apiAddr, "state_dir", *flags.stateDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	sched.Stop()
	bus.Stop()
	slog.Info("routined exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	TemplatesDir string
	Timezone     string
	UseTwilio    bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	templatesDir *string
	timezone     *string
	useTwilio    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("ROUTINED_STATE_DIR"),
		APIAddr:      os.Getenv("API_ADDR"),
		TemplatesDir: os.Getenv("ROUTINED_TEMPLATES_DIR"),
		Timezone:     os.Getenv("ROUTINED_TIMEZONE"),
		UseTwilio:    util.ParseBoolEnv("ROUTINED_USE_TWILIO", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ROUTINED_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Timezone == "" {
		config.Timezone = "Local"
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ROUTINED_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"ROUTINED_TEMPLATES_DIR", config.TemplatesDir,
		"ROUTINED_TIMEZONE", config.Timezone,
		"ROUTINED_USE_TWILIO", config.UseTwilio)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for routined data (overrides $ROUTINED_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		templatesDir: flag.String("templates-dir", config.TemplatesDir, "directory of routine template JSON files (overrides $ROUTINED_TEMPLATES_DIR)"),
		timezone:     flag.String("timezone", config.Timezone, "IANA timezone for schedules (overrides $ROUTINED_TIMEZONE)"),
		useTwilio:    flag.Bool("twilio", config.UseTwilio, "send messages via Twilio WhatsApp (overrides $ROUTINED_USE_TWILIO)"),
	}

	flag.Parse()

	// Follow the state directory when the DSN was defaulted from it
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated db-dsn based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"templatesDir", *flags.templatesDir,
		"timezone", *flags.timezone,
		"useTwilio", *flags.useTwilio)

	return flags
}

// openStore selects the store backend by DSN type.
func openStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessenger selects the message delivery backend.
func buildMessenger(flags Flags) (messaging.Service, error) {
	if *flags.useTwilio {
		return messaging.NewTwilioService()
	}
	return messaging.NewLogService(), nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
