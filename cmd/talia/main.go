package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/taliahq/talia/internal/api"
	"github.com/taliahq/talia/internal/calendar"
	"github.com/taliahq/talia/internal/flow"
	"github.com/taliahq/talia/internal/genai"
	"github.com/taliahq/talia/internal/messaging"
	"github.com/taliahq/talia/internal/printer"
	"github.com/taliahq/talia/internal/sales"
	"github.com/taliahq/talia/internal/store"
	"github.com/taliahq/talia/internal/tasks"
	"github.com/taliahq/talia/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Talia state data
	DefaultStateDir = "/var/lib/talia"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "talia.db"
	// DefaultFlowsDir is the default directory holding flow definition documents
	DefaultFlowsDir = "flows"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Talia with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("Talia failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Talia exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	FlowsDir     string
	OpenAIKey    string
	APIAddr      string
	TasksAPIURL  string
	CalendarFile string
	SMTPHost     string
	TwilioSID    string
	WebhookURL   string
	SalesCatalog string
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	flowsDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	salesCatalog *string
	sendReplies  *bool
	config       Config
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
		StateDir:     os.Getenv("TALIA_STATE_DIR"),
		FlowsDir:     os.Getenv("TALIA_FLOWS_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		TasksAPIURL:  os.Getenv("TASKS_API_URL"),
		CalendarFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		TwilioSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		WebhookURL:   os.Getenv("WEBHOOK_URL"),
		SalesCatalog: os.Getenv("SALES_CATALOG_FILE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TALIA_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.FlowsDir == "" {
		config.FlowsDir = DefaultFlowsDir
		slog.Debug("No TALIA_FLOWS_DIR set, using default", "default_flows_dir", config.FlowsDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TALIA_STATE_DIR", config.StateDir,
		"TALIA_FLOWS_DIR", config.FlowsDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TASKS_API_URL_SET", config.TasksAPIURL != "",
		"GOOGLE_SERVICE_ACCOUNT_FILE_SET", config.CalendarFile != "",
		"SMTP_HOST_SET", config.SMTPHost != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"WEBHOOK_URL_SET", config.WebhookURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "Directory for state data"),
		flowsDir:     flag.String("flows-dir", config.FlowsDir, "Directory holding flow definition documents"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "Database connection string (empty for SQLite in the state directory)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API listen address"),
		salesCatalog: flag.String("sales-catalog", config.SalesCatalog, "Path to the sales service catalog JSON"),
		sendReplies:  flag.Bool("send-replies", util.ParseBoolEnv("TALIA_SEND_REPLIES", false), "Also deliver replies over the WhatsApp transport"),
		config:       config,
	}
	flag.Parse()
	return flags
}

// buildStore selects the persistence backend: Postgres when a postgres DSN is
// configured, otherwise SQLite in the state directory.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	slog.Info("Using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

func run(ctx context.Context, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	repo := flow.NewRepository()
	if err := repo.Load(*flags.flowsDir); err != nil {
		return err
	}
	slog.Info("Flow repository loaded", "flows", len(repo.Flows()), "dir", *flags.flowsDir)

	engine := flow.NewEngine(repo, st)

	// Optional collaborators. Each is constructed only when configured;
	// resolutions that depend on a missing one report unavailability instead
	// of failing at startup.
	var deps flow.Dependencies
	var routerOpts []messaging.RouterOption

	var gen *genai.Client
	if *flags.openaiKey != "" {
		gen, err = genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		deps.GenAI = gen
		routerOpts = append(routerOpts, messaging.WithTranscriber(gen))
		slog.Info("Language model client configured")
	} else {
		slog.Warn("OPENAI_API_KEY not set; generated answers and voice transcription disabled")
	}

	var directory flow.ProjectDirectory
	if flags.config.TasksAPIURL != "" {
		tc, err := tasks.NewClient()
		if err != nil {
			return err
		}
		deps.Tasks = tc
		directory = tc
		slog.Info("Task tracker client configured")
	} else {
		slog.Warn("TASKS_API_URL not set; task resolutions and dynamic options disabled")
	}

	if flags.config.CalendarFile != "" {
		cal, err := calendar.NewClient(ctx)
		if err != nil {
			return err
		}
		deps.Calendar = cal
		slog.Info("Calendar client configured")
	} else {
		slog.Warn("GOOGLE_SERVICE_ACCOUNT_FILE not set; appointment scheduling disabled")
	}

	var printSvc *printer.Service
	if flags.config.SMTPHost != "" {
		printSvc, err = printer.NewService()
		if err != nil {
			return err
		}
		deps.Printer = printSvc
		slog.Info("Printer service configured")
	} else {
		slog.Warn("SMTP_HOST not set; document printing disabled")
	}

	if *flags.salesCatalog != "" && gen != nil {
		pitcher, err := sales.NewPitcher(*flags.salesCatalog, gen)
		if err != nil {
			return err
		}
		deps.Sales = pitcher
		slog.Info("Sales pitcher configured", "catalog", *flags.salesCatalog)
	} else if *flags.salesCatalog != "" {
		slog.Warn("sales catalog configured but no language model available; sales inquiries disabled")
	}

	if flags.config.WebhookURL != "" {
		notifier, err := messaging.NewNotifier()
		if err != nil {
			return err
		}
		routerOpts = append(routerOpts, messaging.WithNotifier(notifier))
		slog.Info("Completion webhook configured")
	}

	dispatcher := flow.NewDispatcher(deps)
	resolver := flow.NewStepResolver(directory)
	router := messaging.NewRouter(engine, repo, resolver, dispatcher, routerOpts...)

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.sendReplies && flags.config.TwilioSID != "" {
		sender, err := messaging.NewTwilioSender()
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithSender(sender))
		slog.Info("WhatsApp transport configured")
	}

	if printSvc != nil {
		printSvc.Start(ctx)
		go consumeConfirmations(printSvc)
	}

	server := api.NewServer(router, repo, st, apiOpts...)
	return server.Run(ctx)
}

// consumeConfirmations drains the printer's confirmation channel and logs
// each job outcome.
func consumeConfirmations(svc *printer.Service) {
	for conf := range svc.Confirmations() {
		slog.Info("Print job confirmation",
			"correlationID", conf.CorrelationID,
			"status", conf.Status,
			"subject", conf.Subject)
	}
}
