package main

import (
	"context"
	"errors"
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
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/actions"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/api"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/audit"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/flow"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/genai"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/lockfile"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messaging"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messenger"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/scheduler"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/tasks"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/twiliowhatsapp"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/util"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/artuso-bot"
	// DefaultTimezone is the zone dates are validated and displayed in
	DefaultTimezone = "America/Argentina/Buenos_Aires"
	// DefaultOutboxPoll is how often the durable outbox is polled
	DefaultOutboxPoll = 5 * time.Second
)

// ErrNoChannels is returned when no messaging channel is configured.
var ErrNoChannels = errors.New("no messaging channel configured: set TWILIO_ACCOUNT_SID, WHATSMEOW_ENABLED or MESSENGER_PAGE_TOKEN")

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	initializeLogger(config.LogLevel)
	slog.Debug("Final configuration",
		"state_dir", config.StateDir,
		"dsn_set", config.DatabaseURL != "",
		"api_addr", config.APIAddr,
		"whatsmeow", config.WhatsmeowEnabled,
		"twilio", config.TwilioAccountSID != "",
		"messenger", config.MessengerPageToken != "",
		"openai", config.OpenAIKey != "",
		"smtp", config.SMTPAddr != "",
		"nats", config.NATSURL != "",
		"sweep_cron", config.SweepCron)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping artuso-bot")
	if err := run(ctx, config); err != nil {
		slog.Error("artuso-bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("artuso-bot exited successfully")
}

// Config holds the process configuration.
type Config struct {
	StateDir    string
	DatabaseURL string
	APIAddr     string
	LogLevel    string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioValidateSignature bool
	PublicBaseURL           string

	WhatsmeowEnabled bool
	WhatsmeowDSN     string
	QRPath           string
	NumericCode      bool

	MessengerPageToken   string
	MessengerVerifyToken string
	MessengerAppSecret   string

	OpenAIKey   string
	OpenAIModel string
	GenAIDebug  bool

	HandoffAgent    string
	HandoffTTL      time.Duration
	SurveyTTL       time.Duration
	ConversationTTL time.Duration
	SurveysEnabled  bool
	SweepToken      string
	SweepCron       string

	SMTPAddr       string
	SMTPUser       string
	SMTPPassword   string
	SMTPFrom       string
	ServiceEmailTo []string

	NATSURL     string
	NATSSubject string

	Timezone       string
	ContactInfo    string
	EmergencyPhone string
}

// initializeLogger sets up structured logging at the requested level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    os.Getenv("ARTUSO_STATE_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIAddr:     os.Getenv("API_ADDR"),
		LogLevel:    os.Getenv("LOG_LEVEL"),

		TwilioAccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:        os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", true),
		PublicBaseURL:           strings.TrimSuffix(os.Getenv("PUBLIC_BASE_URL"), "/"),

		WhatsmeowEnabled: util.ParseBoolEnv("WHATSMEOW_ENABLED", false),
		WhatsmeowDSN:     os.Getenv("WHATSMEOW_DB_DSN"),

		MessengerPageToken:   os.Getenv("MESSENGER_PAGE_TOKEN"),
		MessengerVerifyToken: os.Getenv("MESSENGER_VERIFY_TOKEN"),
		MessengerAppSecret:   os.Getenv("MESSENGER_APP_SECRET"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),

		HandoffAgent:    os.Getenv("HANDOFF_AGENT"),
		HandoffTTL:      util.ParseDurationEnv("HANDOFF_TTL", flow.DefaultHandoffTTL),
		SurveyTTL:       util.ParseDurationEnv("SURVEY_TTL", flow.DefaultSurveyTTL),
		ConversationTTL: util.ParseDurationEnv("CONVERSATION_TTL", flow.DefaultConversationTTL),
		SurveysEnabled:  util.ParseBoolEnv("SURVEYS_ENABLED", true),
		SweepToken:      os.Getenv("SWEEP_TOKEN"),
		SweepCron:       os.Getenv("SWEEP_CRON"),

		SMTPAddr:       os.Getenv("SMTP_ADDR"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
		ServiceEmailTo: util.ParseListEnv("SERVICE_EMAIL_TO"),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: os.Getenv("NATS_SUBJECT"),

		Timezone:       os.Getenv("TIMEZONE"),
		ContactInfo:    os.Getenv("CONTACT_INFO"),
		EmergencyPhone: os.Getenv("EMERGENCY_PHONE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ARTUSO_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}
	if config.NATSSubject == "" {
		config.NATSSubject = audit.DefaultSubject
	}
	if config.HandoffAgent != "" && !strings.Contains(config.HandoffAgent, ":") {
		// A bare number is the agent's WhatsApp.
		config.HandoffAgent = messaging.ChannelWhatsApp + ":" + config.HandoffAgent
	}
	return config
}

// parseCommandLineFlags applies command line overrides to config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for bot data (overrides $ARTUSO_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "database DSN, SQLite under the state directory when empty (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "HTTP listen address (overrides $API_ADDR)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.SweepCron, "sweep-cron", config.SweepCron, "cron expression for the timeout sweep (overrides $SWEEP_CRON)")
	fs.StringVar(&config.QRPath, "qr-output", config.QRPath, "path to write the whatsmeow login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the whatsmeow pairing code instead of a QR code")
	fs.BoolVar(&config.GenAIDebug, "genai-debug", config.GenAIDebug, "write every OpenAI exchange to the state directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if config.WhatsmeowDSN == "" {
		config.WhatsmeowDSN = "file:" + filepath.Join(config.StateDir, whatsapp.DefaultSQLiteFile) + "?_foreign_keys=on"
	}
	return nil
}

// run wires every module and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	backend, err := store.Open(config.DatabaseURL, config.StateDir)
	if err != nil {
		return err
	}
	defer backend.Close()

	services, webhooks, err := buildServices(ctx, config)
	if err != nil {
		return err
	}
	router := messaging.NewRouter(services...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auditOpts, nc, err := buildAuditOptions(config)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}
	recorder := audit.NewRecorder(reg, auditOpts...)

	actionOpts, err := buildActionOptions(config)
	if err != nil {
		return err
	}
	runner := tasks.NewRunner()

	deps := flow.Dependencies{
		Sender:    router,
		Addresses: store.NewAddressBook(backend, store.DefaultMaxSavedAddresses),
		Actions:   actions.NewService(backend, actionOpts...),
		Surveys:   actions.NewSurveyRecorder(backend),
		Auditor:   recorder,
		Tasks:     runner,
		Outbox:    backend,
		Dedup:     backend,
	}
	if config.OpenAIKey != "" {
		nlu, err := genai.NewClient(buildGenAIOptions(config)...)
		if err != nil {
			return fmt.Errorf("create OpenAI client: %w", err)
		}
		deps.NLU = nlu
	} else {
		slog.Info("No OPENAI_API_KEY set, intent and field extraction use deterministic matching only")
	}

	engineOpts, err := buildEngineOptions(config)
	if err != nil {
		return err
	}
	engine, err := flow.NewEngine(store.NewConversationStore(), handoff.NewQueue(), deps, engineOpts...)
	if err != nil {
		return err
	}

	outbox := store.NewOutboxSender(backend, router.OutboxSend, DefaultOutboxPoll)
	if err := outbox.RecoverStaleMessages(); err != nil {
		slog.Warn("Failed to recover stale outbox messages", "error", err)
	}
	go outbox.Run(ctx)

	if err := router.Start(ctx); err != nil {
		return err
	}
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for msg := range router.Inbound() {
			if err := engine.HandleInbound(ctx, msg); err != nil {
				slog.Warn("Failed to handle inbound message", "from", msg.From, "id", msg.ID, "error", err)
			}
		}
	}()

	var sched *scheduler.Scheduler
	if config.SweepCron != "" {
		loc, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", config.Timezone, err)
		}
		sched = scheduler.NewScheduler(scheduler.WithLocation(loc))
		if err := sched.AddJob("sweep", config.SweepCron, func(ctx context.Context) error {
			_, err := engine.Sweep(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	apiOpts := []api.Option{
		api.WithSweepToken(config.SweepToken),
		api.WithGatherer(reg),
		api.WithTasks(runner),
	}
	for channel, hook := range webhooks {
		apiOpts = append(apiOpts, api.WithWebhook(channel, hook))
	}
	server, err := api.NewServer(engine, apiOpts...)
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe(config.APIAddr) }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			slog.Error("HTTP server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.Error("HTTP server forced to shutdown", "error", serr)
	}
	if sched != nil {
		if serr := sched.Stop(shutdownCtx); serr != nil {
			slog.Warn("Scheduler did not stop in time", "error", serr)
		}
	}
	if serr := router.Stop(); serr != nil {
		slog.Warn("Messaging services did not stop cleanly", "error", serr)
	}
	<-consumed
	if serr := runner.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("Background tasks cancelled", "error", serr)
	}
	return err
}

// buildServices creates the configured channel services and their webhooks.
// Whatsmeow and Twilio both own the whatsapp channel, so only one is used.
func buildServices(ctx context.Context, config Config) ([]messaging.Service, map[string]api.Webhook, error) {
	var services []messaging.Service
	webhooks := make(map[string]api.Webhook)

	switch {
	case config.WhatsmeowEnabled:
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, nil, fmt.Errorf("create whatsmeow client: %w", err)
		}
		services = append(services, messaging.NewWhatsAppService(waClient))
		if config.TwilioAccountSID != "" {
			slog.Warn("WHATSMEOW_ENABLED is set, ignoring Twilio configuration")
		}
	case config.TwilioAccountSID != "":
		twClient, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if config.TwilioValidateSignature {
			if config.PublicBaseURL == "" {
				return nil, nil, errors.New("PUBLIC_BASE_URL is required to validate Twilio signatures")
			}
			opts = append(opts, messaging.WithSignatureValidation(config.TwilioAuthToken,
				config.PublicBaseURL+"/webhook/"+messaging.ChannelWhatsApp))
		}
		svc := messaging.NewTwilioService(twClient, opts...)
		services = append(services, svc)
		webhooks[messaging.ChannelWhatsApp] = api.Webhook{Receive: svc.WebhookHandler}
	}

	if config.MessengerPageToken != "" {
		mClient, err := messenger.NewClient(messenger.WithPageToken(config.MessengerPageToken))
		if err != nil {
			return nil, nil, fmt.Errorf("create Messenger client: %w", err)
		}
		svc := messaging.NewMessengerService(mClient,
			messaging.WithVerifyToken(config.MessengerVerifyToken),
			messaging.WithAppSecret(config.MessengerAppSecret),
		)
		services = append(services, svc)
		webhooks[messaging.ChannelMessenger] = api.Webhook{Verify: svc.VerifyHandler, Receive: svc.WebhookHandler}
	}

	if len(services) == 0 {
		return nil, nil, ErrNoChannels
	}
	return services, webhooks, nil
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsmeowDSN)}
	if config.QRPath != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QRPath))
	}
	if config.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	genaiOpts := []genai.Option{genai.WithAPIKey(config.OpenAIKey)}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	if config.GenAIDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(config.StateDir))
	}
	return genaiOpts
}

// buildActionOptions attaches the SMTP mailer when configured.
func buildActionOptions(config Config) ([]actions.Option, error) {
	if config.SMTPAddr == "" {
		slog.Info("No SMTP_ADDR set, service requests cannot be emailed")
		return nil, nil
	}
	mailer, err := actions.NewSMTPMailer(config.SMTPAddr, config.SMTPUser, config.SMTPPassword, config.SMTPFrom)
	if err != nil {
		return nil, err
	}
	return []actions.Option{actions.WithMailer(mailer, config.ServiceEmailTo...)}, nil
}

// buildAuditOptions connects to NATS when configured.
func buildAuditOptions(config Config) ([]audit.Option, *nats.Conn, error) {
	if config.NATSURL == "" {
		return nil, nil, nil
	}
	nc, err := audit.ConnectNATS(config.NATSURL)
	if err != nil {
		return nil, nil, err
	}
	return []audit.Option{audit.WithPublisher(nc, config.NATSSubject)}, nc, nil
}

// buildEngineOptions constructs the conversation engine options
func buildEngineOptions(config Config) ([]flow.Option, error) {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", config.Timezone, err)
	}
	opts := []flow.Option{
		flow.WithCollector(fields.NewCollector(fields.WithLocation(loc))),
		flow.WithHandoffTTL(config.HandoffTTL),
		flow.WithSurveyTTL(config.SurveyTTL),
		flow.WithConversationTTL(config.ConversationTTL),
		flow.WithSurveys(config.SurveysEnabled),
	}
	if config.HandoffAgent != "" {
		opts = append(opts, flow.WithAgentIdentity(config.HandoffAgent))
	} else {
		slog.Warn("No HANDOFF_AGENT set, escalations will only share contact information")
	}
	if config.ContactInfo != "" {
		opts = append(opts, flow.WithContactInfo(config.ContactInfo))
	}
	if config.EmergencyPhone != "" {
		opts = append(opts, flow.WithEmergencyPhone(config.EmergencyPhone))
	}
	return opts, nil
}
