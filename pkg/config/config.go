package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type VoiceMode string

const (
	VoiceAuto      VoiceMode = "auto"
	VoiceLive      VoiceMode = "live"
	VoiceFallback  VoiceMode = "fallback"
	VoiceAudioREST VoiceMode = "audio-rest"
	VoiceOff       VoiceMode = "off"
)

// MemoryDB selects the in-memory procedure store.
const MemoryDB = ":memory:"

// ErrMissingAPIKey is returned by RequireAPIKey when GEMINI_API_KEY is unset.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY must be set")

type Config struct {
	GeminiAPIKey  string
	GeminiBaseURL string

	// Optional overrides of the REST and live model walks.
	Models     []string
	LiveModels []string
	LiveURL    string

	CartesiaAPIKey string

	Account string
	DBPath  string

	// Capture loop.
	CaptureInterval time.Duration
	SettleDelay     time.Duration
	MaxBackoff      time.Duration
	ConfirmFrames   int
	CaptureWidth    int
	JPEGQuality     int
	Camera          string

	Voice         VoiceMode
	ClassifyRPS   float64
	ClassifyBurst int
	Chime         bool

	// Status server. Empty HTTPAddr disables it.
	HTTPAddr            string
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogFile string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiBaseURL:       envOr("GEMINI_BASE_URL", ""),
		Models:              splitCSV(os.Getenv("VAI_COACH_MODELS")),
		LiveModels:          splitCSV(os.Getenv("VAI_COACH_LIVE_MODELS")),
		LiveURL:             envOr("VAI_COACH_LIVE_URL", ""),
		CartesiaAPIKey:      envOr("CARTESIA_API_KEY", ""),
		Account:             envOr("VAI_COACH_ACCOUNT", "default"),
		DBPath:              envOr("VAI_COACH_DB", "vai-coach.db"),
		CaptureInterval:     envDurationOr("VAI_COACH_CAPTURE_INTERVAL", 2500*time.Millisecond),
		SettleDelay:         envDurationOr("VAI_COACH_SETTLE_DELAY", time.Second),
		MaxBackoff:          envDurationOr("VAI_COACH_MAX_BACKOFF", 120*time.Second),
		ConfirmFrames:       envIntOr("VAI_COACH_CONFIRM_FRAMES", 1),
		CaptureWidth:        envIntOr("VAI_COACH_CAPTURE_WIDTH", 1024),
		JPEGQuality:         envIntOr("VAI_COACH_JPEG_QUALITY", 85),
		Camera:              envOr("VAI_COACH_CAMERA", ""),
		Voice:               VoiceMode(strings.ToLower(envOr("VAI_COACH_VOICE", string(VoiceAuto)))),
		ClassifyRPS:         envFloat64Or("VAI_COACH_CLASSIFY_RPS", 0.5),
		ClassifyBurst:       envIntOr("VAI_COACH_CLASSIFY_BURST", 2),
		Chime:               envBoolOr("VAI_COACH_CHIME", true),
		HTTPAddr:            envOr("VAI_COACH_HTTP_ADDR", ""),
		ReadHeaderTimeout:   envDurationOr("VAI_COACH_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VAI_COACH_SHUTDOWN_GRACE_PERIOD", 5*time.Second),
		LogFile:             envOr("VAI_COACH_LOG_FILE", "vai-coach.log"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Flag overrides should call it again.
func (cfg Config) Validate() error {
	switch cfg.Voice {
	case VoiceAuto, VoiceLive, VoiceFallback, VoiceAudioREST, VoiceOff:
	default:
		return fmt.Errorf("VAI_COACH_VOICE must be one of auto|live|fallback|audio-rest|off")
	}
	if cfg.CaptureInterval <= 0 {
		return fmt.Errorf("VAI_COACH_CAPTURE_INTERVAL must be > 0")
	}
	if cfg.SettleDelay < 0 {
		return fmt.Errorf("VAI_COACH_SETTLE_DELAY must be >= 0")
	}
	if cfg.MaxBackoff < cfg.CaptureInterval {
		return fmt.Errorf("VAI_COACH_MAX_BACKOFF must be >= VAI_COACH_CAPTURE_INTERVAL")
	}
	if cfg.ConfirmFrames < 1 {
		return fmt.Errorf("VAI_COACH_CONFIRM_FRAMES must be >= 1")
	}
	if cfg.CaptureWidth < 64 {
		return fmt.Errorf("VAI_COACH_CAPTURE_WIDTH must be >= 64")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("VAI_COACH_JPEG_QUALITY must be between 1 and 100")
	}
	if cfg.ClassifyRPS < 0 {
		return fmt.Errorf("VAI_COACH_CLASSIFY_RPS must be >= 0")
	}
	if cfg.ClassifyBurst < 0 {
		return fmt.Errorf("VAI_COACH_CLASSIFY_BURST must be >= 0")
	}
	if cfg.ClassifyRPS > 0 && cfg.ClassifyBurst < 1 {
		return fmt.Errorf("VAI_COACH_CLASSIFY_BURST must be >= 1 when VAI_COACH_CLASSIFY_RPS is set")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return fmt.Errorf("VAI_COACH_DB must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_COACH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_COACH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

// RequireAPIKey is checked by commands that talk to the model.
func (cfg Config) RequireAPIKey() error {
	if cfg.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// InMemory reports whether DBPath selects the memory store.
func (cfg Config) InMemory() bool {
	return cfg.DBPath == MemoryDB
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDurationOr accepts Go durations ("2.5s") or bare milliseconds ("2500").
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
