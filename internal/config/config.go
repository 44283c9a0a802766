package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/origin"
)

const (
	envVarPassphrase        = "ROOM_PASSPHRASE"
	envVarInactivityMinutes = "INACTIVITY_MINUTES"
	envVarHeartbeatSeconds  = "HEARTBEAT_SECONDS"

	envVarListenAddr      = "AERO_ROOM_LISTEN_ADDR"
	envVarMode            = "AERO_ROOM_MODE"
	envVarLogFormat       = "AERO_ROOM_LOG_FORMAT"
	envVarLogLevel        = "AERO_ROOM_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_ROOM_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// WebSocket signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueBytes                = "SEND_QUEUE_BYTES"

	DefaultListenAddr             = "127.0.0.1:8080"
	DefaultShutdown               = 15 * time.Second
	DefaultMode              Mode = ModeDev
	DefaultInactivityMinutes      = 15
	DefaultHeartbeatSeconds       = 30
	// MaxHeartbeatSeconds caps the liveness probe period. Larger values are
	// accepted and clamped.
	MaxHeartbeatSeconds = 60

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueBytes                = 1 << 20 // 1MiB
)

const (
	flagInactivityMinutes = "inactivity-minutes"
	flagHeartbeatSeconds  = "heartbeat-seconds"
	flagSendQueueBytes    = "send-queue-bytes"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level

	// Passphrase gates joining and /reset. Empty means the room is open and
	// /reset is disabled.
	Passphrase        string
	InactivityTimeout time.Duration
	HeartbeatInterval time.Duration

	// AllowedOrigins lists normalized browser origins permitted to reach /ws,
	// /reset and /webrtc/ice. Empty means same host only; "*" allows any.
	AllowedOrigins []string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueBytes                int

	// ICEServers is advertised to browsers via GET /webrtc/ice.
	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from Load's error so the server can still start and surface the
// problem on /webrtc/ice and /readyz.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// AllowsAnyOrigin reports whether the origin allowlist contains "*".
func (c Config) AllowsAnyOrigin() bool {
	return lo.Contains(c.AllowedOrigins, "*")
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	passphrase, _ := lookup(envVarPassphrase)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	ice := iceSources{
		serversJSON:    envOrDefault(lookup, envICEServersJSON, ""),
		stunURLs:       envOrDefault(lookup, envStunURLs, ""),
		turnURLs:       envOrDefault(lookup, envTurnURLs, ""),
		turnUsername:   envOrDefault(lookup, envTurnUsername, ""),
		turnCredential: envOrDefault(lookup, envTurnCredential, ""),
	}

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	inactivityMinutes, err := envIntOrDefault(lookup, envVarInactivityMinutes, DefaultInactivityMinutes)
	if err != nil {
		return Config{}, err
	}
	heartbeatSeconds, err := envIntOrDefault(lookup, envVarHeartbeatSeconds, DefaultHeartbeatSeconds)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytesInt, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes := int64(maxSignalingMessageBytesInt)
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-room-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&passphrase, "passphrase", passphrase, "Room passphrase; empty disables authentication and /reset (env "+envVarPassphrase+")")
	fs.IntVar(&inactivityMinutes, flagInactivityMinutes, inactivityMinutes, "Evict participants silent for this many minutes (env "+envVarInactivityMinutes+")")
	fs.IntVar(&heartbeatSeconds, flagHeartbeatSeconds, heartbeatSeconds, "Liveness ping period in seconds, capped at 60 (env "+envVarHeartbeatSeconds+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueBytes, flagSendQueueBytes, sendQueueBytes, "Max queued outbound bytes per connection (env "+envVarSendQueueBytes+")")
	fs.StringVar(&ice.serversJSON, "ice-servers-json", ice.serversJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&ice.stunURLs, "stun-urls", ice.stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&ice.turnURLs, "turn-urls", ice.turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&ice.turnUsername, "turn-username", ice.turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&ice.turnCredential, "turn-credential", ice.turnCredential, "TURN credential ("+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if inactivityMinutes <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarInactivityMinutes, flagInactivityMinutes)
	}
	if heartbeatSeconds <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarHeartbeatSeconds, flagHeartbeatSeconds)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if sendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--%s must be > 0", envVarSendQueueBytes, flagSendQueueBytes)
	}
	if int64(sendQueueBytes) < maxSignalingMessageBytes {
		return Config{}, fmt.Errorf("%s/--%s must be >= %s (%d); got %d",
			envVarSendQueueBytes,
			flagSendQueueBytes,
			envVarMaxSignalingMessageBytes,
			maxSignalingMessageBytes,
			sendQueueBytes,
		)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	iceServers, iceErr := ice.resolve()

	return Config{
		ListenAddr:      listenAddr,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,

		Passphrase:        passphrase,
		InactivityTimeout: time.Duration(inactivityMinutes) * time.Minute,
		HeartbeatInterval: time.Duration(min(heartbeatSeconds, MaxHeartbeatSeconds)) * time.Second,

		AllowedOrigins: allowedOrigins,

		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueBytes:                sendQueueBytes,

		ICEServers:   iceServers,
		iceConfigErr: iceErr,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
