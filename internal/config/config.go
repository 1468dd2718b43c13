package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// HTTPAddr is the listen address for `callcoach serve`
	HTTPAddr string `json:"http_addr,omitempty"`

	// Environment selects the log format: "" or "local" is text, anything else JSON.
	Environment string `json:"environment,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// Workers is the number of concurrent ingestion pipelines.
	Workers int `json:"workers,omitempty"`

	// QueueSize is the buffered capacity of the ingestion queue.
	QueueSize int `json:"queue_size,omitempty"`

	// PollIntervalMS is the fixed delay between transcription status polls.
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`

	// PollMaxAttempts is the hard polling ceiling before an ingestion times out.
	PollMaxAttempts int `json:"poll_max_attempts,omitempty"`

	// Language is passed to the transcription backend on submit.
	Language string `json:"language,omitempty"`

	// MaxOperations bounds the cancellation registry.
	MaxOperations int `json:"max_operations,omitempty"`

	// TrendNoiseThreshold is the mean sub-score change below which a trend is stable.
	TrendNoiseThreshold float64 `json:"trend_noise_threshold,omitempty"`

	// SigningSecret keys the HMAC over upload payloads. Required for serve.
	SigningSecret string `json:"signing_secret,omitempty"`

	// AdminToken guards maintenance routes (sweep, stats, backfill).
	AdminToken string `json:"admin_token,omitempty"`

	// UploadURLTTLMinutes is how long an upload credential stays valid.
	UploadURLTTLMinutes int `json:"upload_url_ttl_minutes,omitempty"`

	// StorageBackend is "gcs" or "memory".
	StorageBackend string `json:"storage_backend,omitempty"`

	// Bucket is the GCS bucket holding recordings.
	Bucket string `json:"bucket,omitempty"`

	// ObjectPrefix is the root under which owner prefixes live.
	ObjectPrefix string `json:"object_prefix,omitempty"`

	// GCSCredentialsFile is an optional service account key file.
	GCSCredentialsFile string `json:"gcs_credentials_file,omitempty"`

	// TranscribeURL is the base URL of the transcription backend.
	TranscribeURL string `json:"transcribe_url,omitempty"`

	// MockTranscribe replaces the transcription backend with a canned one.
	MockTranscribe bool `json:"mock_transcribe,omitempty"`

	VertexProject string `json:"vertex_project,omitempty"`
	VertexRegion  string `json:"vertex_region,omitempty"`
	VertexModel   string `json:"vertex_model,omitempty"`

	// MockAnalyzer replaces the Vertex analyzer with fixed scores.
	MockAnalyzer bool `json:"mock_analyzer,omitempty"`

	// IdentityURL is the verify endpoint of the identity service.
	// When empty, StaticTokens is used.
	IdentityURL string `json:"identity_url,omitempty"`

	// StaticTokens maps access proofs to owner ids for local runs and tests.
	StaticTokens map[string]string `json:"static_tokens,omitempty"`

	// SweepConcurrency bounds parallel deletes during a destructive sweep.
	SweepConcurrency int `json:"sweep_concurrency,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// ExportDirs are extra absolute directories `callcoach export` may write into,
	// besides {base}/exports.
	ExportDirs []string `json:"export_dirs,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:            "127.0.0.1:8080",
		LogLevel:            "info",
		Workers:             4,
		QueueSize:           256,
		PollIntervalMS:      5000,
		PollMaxAttempts:     60,
		Language:            "en",
		MaxOperations:       1024,
		TrendNoiseThreshold: 0.5,
		UploadURLTTLMinutes: 15,
		StorageBackend:      "memory",
		ObjectPrefix:        "recordings",
		VertexRegion:        "us-central1",
		VertexModel:         "gemini-1.5-pro",
		SweepConcurrency:    8,
	}
}

// PollInterval returns PollIntervalMS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// UploadURLTTL returns UploadURLTTLMinutes as a duration.
func (c *Config) UploadURLTTL() time.Duration {
	return time.Duration(c.UploadURLTTLMinutes) * time.Minute
}

// Load loads configuration from baseDir/config.json, then applies CALLCOACH_*
// environment overrides. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.callcoach.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(cfg, FromEnv(os.Getenv)), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// FromEnv builds an overlay config from CALLCOACH_* variables.
// Unparseable numeric values are ignored.
func FromEnv(getenv func(string) string) *Config {
	cfg := &Config{
		HTTPAddr:           getenv("CALLCOACH_HTTP_ADDR"),
		Environment:        getenv("ENVIRONMENT"),
		LogLevel:           getenv("LOG_LEVEL"),
		Language:           getenv("CALLCOACH_LANGUAGE"),
		SigningSecret:      getenv("CALLCOACH_SIGNING_SECRET"),
		AdminToken:         getenv("CALLCOACH_ADMIN_TOKEN"),
		StorageBackend:     getenv("CALLCOACH_STORAGE_BACKEND"),
		Bucket:             getenv("CALLCOACH_BUCKET"),
		ObjectPrefix:       getenv("CALLCOACH_OBJECT_PREFIX"),
		GCSCredentialsFile: getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		TranscribeURL:      getenv("TRANSCRIBE_URL"),
		MockTranscribe:     getenv("USE_MOCK_TRANSCRIBE") == "true",
		VertexProject:      getenv("VERTEX_PROJECT"),
		VertexRegion:       getenv("VERTEX_AI_REGION"),
		VertexModel:        getenv("VERTEX_MODEL"),
		MockAnalyzer:       getenv("USE_MOCK_ANALYZER") == "true",
		IdentityURL:        getenv("IDENTITY_URL"),
	}
	cfg.Workers = envInt(getenv, "CALLCOACH_WORKERS")
	cfg.PollIntervalMS = envInt(getenv, "CALLCOACH_POLL_INTERVAL_MS")
	cfg.PollMaxAttempts = envInt(getenv, "CALLCOACH_POLL_MAX_ATTEMPTS")
	return cfg
}

func envInt(getenv func(string) string, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(getenv(key)))
	if err != nil {
		return 0
	}
	return v
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays and maps are merged.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		HTTPAddr:            pickString(base.HTTPAddr, overlay.HTTPAddr),
		Environment:         pickString(base.Environment, overlay.Environment),
		LogLevel:            pickString(base.LogLevel, overlay.LogLevel),
		DBMaxOpenConns:      pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns),
		DBMaxIdleConns:      pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns),
		Workers:             pickInt(base.Workers, overlay.Workers),
		QueueSize:           pickInt(base.QueueSize, overlay.QueueSize),
		PollIntervalMS:      pickInt(base.PollIntervalMS, overlay.PollIntervalMS),
		PollMaxAttempts:     pickInt(base.PollMaxAttempts, overlay.PollMaxAttempts),
		Language:            pickString(base.Language, overlay.Language),
		MaxOperations:       pickInt(base.MaxOperations, overlay.MaxOperations),
		SigningSecret:       pickString(base.SigningSecret, overlay.SigningSecret),
		AdminToken:          pickString(base.AdminToken, overlay.AdminToken),
		UploadURLTTLMinutes: pickInt(base.UploadURLTTLMinutes, overlay.UploadURLTTLMinutes),
		StorageBackend:      pickString(base.StorageBackend, overlay.StorageBackend),
		Bucket:              pickString(base.Bucket, overlay.Bucket),
		ObjectPrefix:        pickString(base.ObjectPrefix, overlay.ObjectPrefix),
		GCSCredentialsFile:  pickString(base.GCSCredentialsFile, overlay.GCSCredentialsFile),
		TranscribeURL:       pickString(base.TranscribeURL, overlay.TranscribeURL),
		VertexProject:       pickString(base.VertexProject, overlay.VertexProject),
		VertexRegion:        pickString(base.VertexRegion, overlay.VertexRegion),
		VertexModel:         pickString(base.VertexModel, overlay.VertexModel),
		IdentityURL:         pickString(base.IdentityURL, overlay.IdentityURL),
		SweepConcurrency:    pickInt(base.SweepConcurrency, overlay.SweepConcurrency),
	}

	result.TrendNoiseThreshold = overlay.TrendNoiseThreshold
	if result.TrendNoiseThreshold == 0 {
		result.TrendNoiseThreshold = base.TrendNoiseThreshold
	}

	// Booleans: overlay wins if true, else base
	result.MockTranscribe = base.MockTranscribe || overlay.MockTranscribe
	result.MockAnalyzer = base.MockAnalyzer || overlay.MockAnalyzer

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.ExportDirs = mergeStringSlice(base.ExportDirs, overlay.ExportDirs)

	if len(base.StaticTokens)+len(overlay.StaticTokens) > 0 {
		result.StaticTokens = make(map[string]string, len(base.StaticTokens)+len(overlay.StaticTokens))
		for k, v := range base.StaticTokens {
			result.StaticTokens[k] = v
		}
		for k, v := range overlay.StaticTokens {
			result.StaticTokens[k] = v
		}
	}

	return result
}

func pickString(base, overlay string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
