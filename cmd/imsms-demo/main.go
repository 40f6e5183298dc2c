package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"github.com/teamplayer/imsms-demo/internal/api"
	"github.com/teamplayer/imsms-demo/internal/flow"
	"github.com/teamplayer/imsms-demo/internal/genai"
	"github.com/teamplayer/imsms-demo/internal/imsms"
	"github.com/teamplayer/imsms-demo/internal/lockfile"
	"github.com/teamplayer/imsms-demo/internal/phone"
	"github.com/teamplayer/imsms-demo/internal/store"
	"github.com/teamplayer/imsms-demo/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for relay state data
	DefaultStateDir = "/var/lib/imsms-demo"
	// DefaultPort matches the port the web client expects
	DefaultPort = "3000"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	os.Exit(run(flags))
}

// run holds the state directory lock for the lifetime of the server and returns the exit code.
func run(flags Flags) int {
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	if *flags.showQR {
		if err := printQRCode(flags); err != nil {
			slog.Warn("Failed to print demo QR code", "error", err)
		}
	}

	// Build module options
	gatewayOpts := buildGatewayOptions(flags)
	ledgerOpts := buildLedgerOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	flowOpts := buildFlowOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping IMSMS demo relay with configured modules")
	slog.Debug("Module options counts", "gateway", len(gatewayOpts), "ledger", len(ledgerOpts), "genai", len(genaiOpts), "flow", len(flowOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "ledger_dsn_type", store.DetectDSNType(*flags.ledgerDSN), "api_addr", *flags.apiAddr)
	if err := api.Run(gatewayOpts, ledgerOpts, genaiOpts, flowOpts, apiOpts); err != nil {
		slog.Error("IMSMS demo relay failed to run", "error", err)
		return 1
	}
	slog.Info("IMSMS demo relay exited successfully")
	return 0
}

// Config holds environment configuration
type Config struct {
	IMSMSBaseURL     string
	IMSMSAgentID     string
	IMSMSAPIKey      string
	CallbackURL      string
	APIAddr          string
	StateDir         string
	LedgerDSN        string
	StaticDir        string
	CountryCode      string
	OpenAIKey        string
	GenAIDemo        bool
	ShowQR           bool
	SessionRetention time.Duration
	SweepInterval    time.Duration
}

// Flags holds command line flag values
type Flags struct {
	baseURL          *string
	agentID          *string
	apiKey           *string
	callbackURL      *string
	apiAddr          *string
	stateDir         *string
	ledgerDSN        *string
	staticDir        *string
	countryCode      *string
	openaiKey        *string
	genaiDemo        *bool
	showQR           *bool
	qrOutput         *string
	sessionRetention *time.Duration
	sweepInterval    *time.Duration
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
		IMSMSBaseURL:     os.Getenv("IMSMS_BASE_URL"),
		IMSMSAgentID:     util.GetenvDefault("IMSMS_AGENT_ID", imsms.DefaultAgentID),
		IMSMSAPIKey:      os.Getenv("IMSMS_API_KEY"),
		CallbackURL:      os.Getenv("CALLBACK_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		StateDir:         util.GetenvDefault("STATE_DIR", DefaultStateDir),
		LedgerDSN:        os.Getenv("LEDGER_DSN"),
		StaticDir:        os.Getenv("STATIC_DIR"),
		CountryCode:      util.GetenvDefault("DEFAULT_COUNTRY_CODE", phone.DefaultCountryCode),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		GenAIDemo:        util.ParseBoolEnv("DEMO_MESSAGE_GENAI", false),
		ShowQR:           util.ParseBoolEnv("SHOW_QR", false),
		SessionRetention: util.ParseDurationEnv("SESSION_RETENTION", store.DefaultSessionRetention),
		SweepInterval:    util.ParseDurationEnv("SESSION_SWEEP_INTERVAL", store.DefaultSweepInterval),
	}

	// API_ADDR wins over PORT
	if config.APIAddr == "" {
		config.APIAddr = ":" + util.GetenvDefault("PORT", DefaultPort)
	}

	// Default to the JSON ledger file in the state directory
	if config.LedgerDSN == "" {
		config.LedgerDSN = filepath.Join(config.StateDir, store.DefaultLedgerFileName)
		slog.Debug("No LEDGER_DSN provided, defaulting to JSON file", "ledger_path", config.LedgerDSN)
	}

	slog.Debug("environment variables loaded",
		"IMSMS_BASE_URL", config.IMSMSBaseURL,
		"IMSMS_AGENT_ID", config.IMSMSAgentID,
		"IMSMS_API_KEY_SET", config.IMSMSAPIKey != "",
		"CALLBACK_URL", config.CallbackURL,
		"API_ADDR", config.APIAddr,
		"STATE_DIR", config.StateDir,
		"LEDGER_DSN_TYPE", store.DetectDSNType(config.LedgerDSN),
		"STATIC_DIR", config.StaticDir,
		"DEFAULT_COUNTRY_CODE", config.CountryCode,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DEMO_MESSAGE_GENAI", config.GenAIDemo,
		"SHOW_QR", config.ShowQR)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		baseURL:          flag.String("imsms-base-url", config.IMSMSBaseURL, "IMSMS platform base URL (overrides $IMSMS_BASE_URL)"),
		agentID:          flag.String("agent-id", config.IMSMSAgentID, "IMSMS sending agent id (overrides $IMSMS_AGENT_ID)"),
		apiKey:           flag.String("imsms-api-key", config.IMSMSAPIKey, "IMSMS API key (overrides $IMSMS_API_KEY)"),
		callbackURL:      flag.String("callback-url", config.CallbackURL, "public base URL the platform posts callbacks to (overrides $CALLBACK_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR and $PORT)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for relay data (overrides $STATE_DIR)"),
		ledgerDSN:        flag.String("ledger-dsn", config.LedgerDSN, "consent ledger: JSON file path, SQLite path or Postgres DSN (overrides $LEDGER_DSN)"),
		staticDir:        flag.String("static-dir", config.StaticDir, "directory with the web client (overrides $STATIC_DIR)"),
		countryCode:      flag.String("country-code", config.CountryCode, "default country code for phone numbers (overrides $DEFAULT_COUNTRY_CODE)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		genaiDemo:        flag.Bool("genai-demo", config.GenAIDemo, "generate the demo message with GenAI (overrides $DEMO_MESSAGE_GENAI)"),
		showQR:           flag.Bool("show-qr", config.ShowQR, "print the demo URL as a QR code on startup (overrides $SHOW_QR)"),
		qrOutput:         flag.String("qr-output", "", "path to write the demo QR code instead of stdout"),
		sessionRetention: flag.Duration("session-retention", config.SessionRetention, "how long idle sessions are kept (overrides $SESSION_RETENTION)"),
		sweepInterval:    flag.Duration("sweep-interval", config.SweepInterval, "how often stale sessions are removed (overrides $SESSION_SWEEP_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"baseURL", *flags.baseURL,
		"agentID", *flags.agentID,
		"apiKeySet", *flags.apiKey != "",
		"callbackURL", *flags.callbackURL,
		"apiAddr", *flags.apiAddr,
		"stateDir", *flags.stateDir,
		"ledgerDSN_type", store.DetectDSNType(*flags.ledgerDSN),
		"staticDir", *flags.staticDir,
		"countryCode", *flags.countryCode,
		"openaiKeySet", *flags.openaiKey != "",
		"genaiDemo", *flags.genaiDemo,
		"showQR", *flags.showQR,
		"sessionRetention", *flags.sessionRetention,
		"sweepInterval", *flags.sweepInterval)

	// Move the default ledger along with an overridden state directory
	if *flags.ledgerDSN == config.LedgerDSN && config.LedgerDSN == filepath.Join(config.StateDir, store.DefaultLedgerFileName) && *flags.stateDir != config.StateDir {
		*flags.ledgerDSN = filepath.Join(*flags.stateDir, store.DefaultLedgerFileName)
		slog.Debug("Updated ledgerDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// printQRCode renders the public demo URL so visitors can open the web client from a phone.
func printQRCode(flags Flags) error {
	if *flags.callbackURL == "" {
		return fmt.Errorf("no public URL to encode, set -callback-url")
	}
	writer := io.Writer(os.Stdout)
	if *flags.qrOutput != "" {
		f, err := os.Create(*flags.qrOutput)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	writeQRCode(writer, *flags.callbackURL)
	return nil
}

func writeQRCode(w io.Writer, url string) {
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	fmt.Fprintln(w, url)
}

// buildGatewayOptions constructs IMSMS client configuration options
func buildGatewayOptions(flags Flags) []imsms.Option {
	var opts []imsms.Option
	if *flags.baseURL != "" {
		opts = append(opts, imsms.WithBaseURL(*flags.baseURL))
	}
	if *flags.agentID != "" {
		opts = append(opts, imsms.WithAgentID(*flags.agentID))
	}
	if *flags.apiKey != "" {
		opts = append(opts, imsms.WithAPIKey(*flags.apiKey))
	}
	return opts
}

// buildLedgerOptions constructs consent ledger configuration options
func buildLedgerOptions(flags Flags) []store.Option {
	var opts []store.Option
	switch store.DetectDSNType(*flags.ledgerDSN) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL ledger", "dsn_type", "postgresql", "dsn_set", true)
		opts = append(opts, store.WithPostgresDSN(*flags.ledgerDSN))
	case store.DSNTypeSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite ledger", "dsn_type", "sqlite", "db_path", *flags.ledgerDSN)
		opts = append(opts, store.WithSQLiteDSN(*flags.ledgerDSN))
	default:
		slog.Debug("Configuring JSON file ledger", "dsn_type", "file", "path", *flags.ledgerDSN)
		opts = append(opts, store.WithFilePath(*flags.ledgerDSN))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	return opts
}

// buildFlowOptions constructs session orchestrator configuration options
func buildFlowOptions(flags Flags) []flow.Option {
	var opts []flow.Option
	if *flags.callbackURL != "" {
		opts = append(opts, flow.WithCallbackURL(*flags.callbackURL))
	}
	if *flags.countryCode != "" {
		opts = append(opts, flow.WithNormalizer(phone.NewNormalizer(phone.WithCountryCode(*flags.countryCode))))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.staticDir != "" {
		opts = append(opts, api.WithStaticDir(*flags.staticDir))
	}
	opts = append(opts,
		api.WithGenAIDemo(*flags.genaiDemo),
		api.WithSessionRetention(*flags.sessionRetention),
		api.WithSweepInterval(*flags.sweepInterval))
	return opts
}
