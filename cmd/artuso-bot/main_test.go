package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/audit"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/flow"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/messaging"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/whatsapp"
)

var configKeys = []string{
	"ARTUSO_STATE_DIR", "DATABASE_URL", "API_ADDR", "LOG_LEVEL",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_VALIDATE_SIGNATURE", "PUBLIC_BASE_URL",
	"WHATSMEOW_ENABLED", "WHATSMEOW_DB_DSN",
	"MESSENGER_PAGE_TOKEN", "MESSENGER_VERIFY_TOKEN", "MESSENGER_APP_SECRET",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"HANDOFF_AGENT", "HANDOFF_TTL", "SURVEY_TTL", "CONVERSATION_TTL", "SURVEYS_ENABLED", "SWEEP_TOKEN", "SWEEP_CRON",
	"SMTP_ADDR", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM", "SERVICE_EMAIL_TO",
	"NATS_URL", "NATS_SUBJECT", "TIMEZONE", "CONTACT_INFO", "EMERGENCY_PHONE",
}

// clearEnv blanks every configuration key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("Expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	if config.Timezone != DefaultTimezone {
		t.Errorf("Expected default timezone %q, got %q", DefaultTimezone, config.Timezone)
	}
	if config.NATSSubject != audit.DefaultSubject {
		t.Errorf("Expected default NATS subject, got %q", config.NATSSubject)
	}
	if config.HandoffTTL != flow.DefaultHandoffTTL || config.SurveyTTL != flow.DefaultSurveyTTL || config.ConversationTTL != flow.DefaultConversationTTL {
		t.Errorf("unexpected TTL defaults: %v %v %v", config.HandoffTTL, config.SurveyTTL, config.ConversationTTL)
	}
	if !config.SurveysEnabled || !config.TwilioValidateSignature || config.WhatsmeowEnabled {
		t.Errorf("unexpected boolean defaults: %+v", config)
	}
	if config.ServiceEmailTo != nil {
		t.Errorf("Expected no email recipients, got %v", config.ServiceEmailTo)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARTUSO_STATE_DIR", "/tmp/artuso")
	t.Setenv("HANDOFF_TTL", "12h")
	t.Setenv("SURVEY_TTL", "not-a-duration")
	t.Setenv("SURVEYS_ENABLED", "false")
	t.Setenv("WHATSMEOW_ENABLED", "maybe")
	t.Setenv("SERVICE_EMAIL_TO", " ops@artuso.com.ar, ,admin@artuso.com.ar ")
	t.Setenv("PUBLIC_BASE_URL", "https://bot.example.com/")
	t.Setenv("HANDOFF_AGENT", "+5491155550000")

	config := loadEnvironmentConfig()

	if config.StateDir != "/tmp/artuso" {
		t.Errorf("StateDir = %q", config.StateDir)
	}
	if config.HandoffTTL != 12*time.Hour {
		t.Errorf("HandoffTTL = %v", config.HandoffTTL)
	}
	if config.SurveyTTL != flow.DefaultSurveyTTL {
		t.Errorf("invalid SURVEY_TTL should fall back to default, got %v", config.SurveyTTL)
	}
	if config.SurveysEnabled {
		t.Error("SURVEYS_ENABLED=false should disable surveys")
	}
	if config.WhatsmeowEnabled {
		t.Error("invalid WHATSMEOW_ENABLED should fall back to false")
	}
	want := []string{"ops@artuso.com.ar", "admin@artuso.com.ar"}
	if !reflect.DeepEqual(config.ServiceEmailTo, want) {
		t.Errorf("ServiceEmailTo = %v, want %v", config.ServiceEmailTo, want)
	}
	if config.PublicBaseURL != "https://bot.example.com" {
		t.Errorf("PublicBaseURL = %q", config.PublicBaseURL)
	}
	if config.HandoffAgent != "whatsapp:+5491155550000" {
		t.Errorf("HandoffAgent = %q", config.HandoffAgent)
	}
}

func TestLoadEnvironmentConfigQualifiedAgent(t *testing.T) {
	clearEnv(t)
	t.Setenv("HANDOFF_AGENT", "messenger:12345")
	if got := loadEnvironmentConfig().HandoffAgent; got != "messenger:12345" {
		t.Errorf("HandoffAgent = %q", got)
	}
}

func TestParseCommandLineFlags(t *testing.T) {
	config := Config{StateDir: "/env/state", APIAddr: ":8080"}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	args := []string{"-state-dir", "/flag/state", "-sweep-cron", "*/5 * * * *", "-numeric-code"}
	if err := parseCommandLineFlags(fs, args, &config); err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	if config.StateDir != "/flag/state" {
		t.Errorf("StateDir = %q", config.StateDir)
	}
	if config.APIAddr != ":8080" {
		t.Errorf("APIAddr should keep the environment value, got %q", config.APIAddr)
	}
	if config.SweepCron != "*/5 * * * *" || !config.NumericCode {
		t.Errorf("flags not applied: %+v", config)
	}
	wantDSN := "file:" + filepath.Join("/flag/state", whatsapp.DefaultSQLiteFile) + "?_foreign_keys=on"
	if config.WhatsmeowDSN != wantDSN {
		t.Errorf("WhatsmeowDSN = %q, want %q", config.WhatsmeowDSN, wantDSN)
	}
}

func TestParseCommandLineFlagsKeepsExplicitWhatsmeowDSN(t *testing.T) {
	config := Config{StateDir: "/state", WhatsmeowDSN: "postgres://wa@localhost/wa"}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := parseCommandLineFlags(fs, nil, &config); err != nil {
		t.Fatal(err)
	}
	if config.WhatsmeowDSN != "postgres://wa@localhost/wa" {
		t.Errorf("WhatsmeowDSN = %q", config.WhatsmeowDSN)
	}
}

func TestParseCommandLineFlagsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var config Config
	if err := parseCommandLineFlags(fs, []string{"-bogus"}, &config); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildServicesRequiresChannel(t *testing.T) {
	_, _, err := buildServices(context.Background(), Config{})
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}
}

func TestBuildServicesMessenger(t *testing.T) {
	config := Config{MessengerPageToken: "page-token", MessengerVerifyToken: "verify"}
	services, webhooks, err := buildServices(context.Background(), config)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	if len(services) != 1 || services[0].Channel() != messaging.ChannelMessenger {
		t.Fatalf("services = %v", services)
	}
	hook, ok := webhooks[messaging.ChannelMessenger]
	if !ok || hook.Verify == nil || hook.Receive == nil {
		t.Errorf("messenger webhook = %+v", hook)
	}
}

func TestBuildServicesTwilioRequiresPublicURL(t *testing.T) {
	config := Config{
		TwilioAccountSID:        "AC123",
		TwilioAuthToken:         "token",
		TwilioFromNumber:        "+14155238886",
		TwilioValidateSignature: true,
	}
	if _, _, err := buildServices(context.Background(), config); err == nil || !strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
		t.Errorf("expected PUBLIC_BASE_URL error, got %v", err)
	}

	config.PublicBaseURL = "https://bot.example.com"
	services, webhooks, err := buildServices(context.Background(), config)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	if len(services) != 1 || services[0].Channel() != messaging.ChannelWhatsApp {
		t.Fatalf("services = %v", services)
	}
	if hook := webhooks[messaging.ChannelWhatsApp]; hook.Receive == nil || hook.Verify != nil {
		t.Errorf("whatsapp webhook = %+v", hook)
	}
}

func TestBuildEngineOptions(t *testing.T) {
	config := Config{Timezone: "UTC", HandoffAgent: "whatsapp:+5491155550000", ContactInfo: "info", EmergencyPhone: "911"}
	opts, err := buildEngineOptions(config)
	if err != nil {
		t.Fatalf("buildEngineOptions: %v", err)
	}
	if len(opts) != 8 {
		t.Errorf("got %d options, want 8", len(opts))
	}

	config.Timezone = "Mars/Olympus_Mons"
	if _, err := buildEngineOptions(config); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestBuildActionOptions(t *testing.T) {
	opts, err := buildActionOptions(Config{})
	if err != nil || opts != nil {
		t.Errorf("no SMTP: opts = %v, err = %v", opts, err)
	}
	opts, err = buildActionOptions(Config{SMTPAddr: "smtp.example.com:587", SMTPFrom: "bot@example.com", ServiceEmailTo: []string{"ops@example.com"}})
	if err != nil || len(opts) != 1 {
		t.Errorf("SMTP: opts = %v, err = %v", opts, err)
	}
	if _, err := buildActionOptions(Config{SMTPAddr: "smtp.example.com"}); err == nil {
		t.Error("expected error for SMTP address without port or sender")
	}
}

func TestBuildGenAIOptions(t *testing.T) {
	if n := len(buildGenAIOptions(Config{OpenAIKey: "k"})); n != 1 {
		t.Errorf("got %d options, want 1", n)
	}
	if n := len(buildGenAIOptions(Config{OpenAIKey: "k", OpenAIModel: "gpt-4o", GenAIDebug: true, StateDir: t.TempDir()})); n != 3 {
		t.Errorf("got %d options, want 3", n)
	}
}

func TestBuildAuditOptionsWithoutNATS(t *testing.T) {
	opts, nc, err := buildAuditOptions(Config{})
	if err != nil || opts != nil || nc != nil {
		t.Errorf("opts = %v, nc = %v, err = %v", opts, nc, err)
	}
}
