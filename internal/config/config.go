// Package config provides configuration management for hap using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dugoutlabs/hap/pkg/duration"
)

// Default configuration values.
const (
	defaultConcurrency        = 4
	defaultFetchTimeout       = 60 * time.Second
	defaultTranscribeTimeout  = 120 * time.Second
	defaultMediaToolTimeout   = 300 * time.Second
	defaultSegmentBuffer      = 0.15
	defaultMergeGap           = 0.5
	defaultFadeSeconds        = 0.05
	defaultCrossfadeFrames    = 10
	defaultFPS                = 30
	defaultWidth              = 1920
	defaultHeight             = 1080
	defaultCRF                = 18
	defaultDuckingFloor       = 0.2
	defaultDuckingCeiling     = 0.7
	defaultNarrationGain      = 2.0
	defaultFinalGain          = 1.5
	defaultTrimBuffer         = 1.5
	defaultWindowTail         = 0.5
	defaultTranscriptTTLDays  = 7
	defaultCacheMaxEntries    = 50
	defaultMaxOpenConns       = 6
	defaultMaxIdleConns       = 3
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultMinFreeDiskBytes   = 2 * 1024 * 1024 * 1024 // 2GB
	defaultJanitorSchedule    = "0 */6 * * *"          // every 6 hours
	defaultFetchUserAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultFetchOrigin        = "https://www.mlb.com"
	defaultFetchReferer       = "https://www.mlb.com/video/"
	defaultWhisperModel       = "whisper-1"
	defaultDeepgramBaseURL    = "https://api.deepgram.com/v1/listen"
	defaultDeepgramModel      = "nova-2"
	defaultTranscriptLanguage = "en"
)

// Config holds all configuration for the application.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Selection     SelectionConfig     `mapstructure:"selection"`
	Surgery       SurgeryConfig       `mapstructure:"surgery"`
	Assembly      AssemblyConfig      `mapstructure:"assembly"`
	Mixer         MixerConfig         `mapstructure:"mixer"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	FFmpeg        FFmpegConfig        `mapstructure:"ffmpeg"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
}

// DatabaseConfig holds transcript-cache database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	LogLevel        string        `mapstructure:"log_level"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// StorageConfig holds filesystem layout configuration.
type StorageConfig struct {
	// WorkingDirRoot is the parent of per-run scratch directories.
	WorkingDirRoot string `mapstructure:"working_dir_root"`

	// TransitionsDir holds the pre-rendered {top|bot}-{1..9}.mp4 files.
	TransitionsDir string `mapstructure:"transitions_dir"`

	// MinFreeDisk triggers a preflight warning when the working dir
	// filesystem has less free space than this. Accepts sizes like "2GB".
	MinFreeDisk ByteSize `mapstructure:"min_free_disk"`

	// KeepWorkingDirs disables run-directory deletion for debugging.
	KeepWorkingDirs bool `mapstructure:"keep_working_dirs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, text
	AddSource  bool   `mapstructure:"add_source"`  // include source file/line
	TimeFormat string `mapstructure:"time_format"` // time format for log output
}

// PipelineConfig holds orchestrator configuration.
type PipelineConfig struct {
	// Concurrency bounds parallel per-clip tasks. 0 selects a bound from
	// the host CPU count, capped at the documented default of 4.
	Concurrency       int           `mapstructure:"concurrency"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
	MediaToolTimeout  time.Duration `mapstructure:"media_tool_timeout"`
}

// SelectionConfig holds the reducer's interval parameters.
type SelectionConfig struct {
	// BufferSeconds pads each side of a selected run.
	BufferSeconds float64 `mapstructure:"buffer_seconds"`

	// MergeGapSeconds merges intervals closer than this.
	MergeGapSeconds float64 `mapstructure:"merge_gap_seconds"`
}

// SurgeryConfig holds clip-surgery parameters.
type SurgeryConfig struct {
	// FadeSeconds is the linear audio fade applied at each interval cut.
	FadeSeconds float64 `mapstructure:"fade_seconds"`
}

// AssemblyConfig holds timeline-assembly parameters.
type AssemblyConfig struct {
	CrossfadeFrames int    `mapstructure:"crossfade_frames"`
	FPS             int    `mapstructure:"fps"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	Preset          string `mapstructure:"preset"`
	CRF             int    `mapstructure:"crf"`
	AudioBitrate    string `mapstructure:"audio_bitrate"`
}

// MixerConfig holds synced-narration mixing parameters.
type MixerConfig struct {
	DuckingFloor      float64 `mapstructure:"ducking_floor"`
	DuckingCeiling    float64 `mapstructure:"ducking_ceiling"`
	NarrationGain     float64 `mapstructure:"narration_gain"`
	FinalGain         float64 `mapstructure:"final_gain"`
	TrimBufferSeconds float64 `mapstructure:"trim_buffer_seconds"`
	WindowTailSeconds float64 `mapstructure:"window_tail_seconds"`
}

// TranscriptionConfig holds provider selection and cache policy.
type TranscriptionConfig struct {
	// Providers is the ordered provider list; the first is primary,
	// the rest are fallbacks.
	Providers       []string       `mapstructure:"providers"`
	Language        string         `mapstructure:"language"`
	TTLDays         int            `mapstructure:"ttl_days"`
	CacheMaxEntries int            `mapstructure:"cache_max_entries"`
	JanitorSchedule string         `mapstructure:"janitor_schedule"`
	Whisper         WhisperConfig  `mapstructure:"whisper"`
	Deepgram        DeepgramConfig `mapstructure:"deepgram"`
}

// WhisperConfig holds the OpenAI Whisper provider configuration.
type WhisperConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // empty = api.openai.com
}

// DeepgramConfig holds the Deepgram provider configuration.
type DeepgramConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// FFmpegConfig holds external media tool paths.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"`
	ProbePath  string `mapstructure:"probe_path"`
}

// FetchConfig holds the header profile sent to the upstream media host.
type FetchConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	Origin    string `mapstructure:"origin"`
	Referer   string `mapstructure:"referer"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HAP_ and use underscores for
// nesting. Example: HAP_PIPELINE_CONCURRENCY=8.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hap")
		v.AddConfigPath("$HOME/.hap")
	}

	// Environment variable settings
	v.SetEnvPrefix("HAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so that unset keys
// resolve to the documented defaults.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hap.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)

	// Storage defaults
	v.SetDefault("storage.working_dir_root", filepath.Join(os.TempDir(), "hap"))
	v.SetDefault("storage.transitions_dir", "./transitions")
	v.SetDefault("storage.min_free_disk", defaultMinFreeDiskBytes)
	v.SetDefault("storage.keep_working_dirs", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pipeline defaults
	v.SetDefault("pipeline.concurrency", defaultConcurrency)
	v.SetDefault("pipeline.fetch_timeout", defaultFetchTimeout)
	v.SetDefault("pipeline.transcribe_timeout", defaultTranscribeTimeout)
	v.SetDefault("pipeline.media_tool_timeout", defaultMediaToolTimeout)

	// Selection defaults
	v.SetDefault("selection.buffer_seconds", defaultSegmentBuffer)
	v.SetDefault("selection.merge_gap_seconds", defaultMergeGap)

	// Surgery defaults
	v.SetDefault("surgery.fade_seconds", defaultFadeSeconds)

	// Assembly defaults
	v.SetDefault("assembly.crossfade_frames", defaultCrossfadeFrames)
	v.SetDefault("assembly.fps", defaultFPS)
	v.SetDefault("assembly.width", defaultWidth)
	v.SetDefault("assembly.height", defaultHeight)
	v.SetDefault("assembly.preset", "veryfast")
	v.SetDefault("assembly.crf", defaultCRF)
	v.SetDefault("assembly.audio_bitrate", "192k")

	// Mixer defaults
	v.SetDefault("mixer.ducking_floor", defaultDuckingFloor)
	v.SetDefault("mixer.ducking_ceiling", defaultDuckingCeiling)
	v.SetDefault("mixer.narration_gain", defaultNarrationGain)
	v.SetDefault("mixer.final_gain", defaultFinalGain)
	v.SetDefault("mixer.trim_buffer_seconds", defaultTrimBuffer)
	v.SetDefault("mixer.window_tail_seconds", defaultWindowTail)

	// Transcription defaults
	v.SetDefault("transcription.providers", []string{"whisper", "deepgram"})
	v.SetDefault("transcription.language", defaultTranscriptLanguage)
	v.SetDefault("transcription.ttl_days", defaultTranscriptTTLDays)
	v.SetDefault("transcription.cache_max_entries", defaultCacheMaxEntries)
	v.SetDefault("transcription.janitor_schedule", defaultJanitorSchedule)
	v.SetDefault("transcription.whisper.api_key", "")
	v.SetDefault("transcription.whisper.model", defaultWhisperModel)
	v.SetDefault("transcription.whisper.base_url", "")
	v.SetDefault("transcription.deepgram.api_key", "")
	v.SetDefault("transcription.deepgram.model", defaultDeepgramModel)
	v.SetDefault("transcription.deepgram.base_url", defaultDeepgramBaseURL)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "ffmpeg")
	v.SetDefault("ffmpeg.probe_path", "ffprobe")

	// Fetch defaults
	v.SetDefault("fetch.user_agent", defaultFetchUserAgent)
	v.SetDefault("fetch.origin", defaultFetchOrigin)
	v.SetDefault("fetch.referer", defaultFetchReferer)
}

// knownProviders are the transcription provider names understood by the
// transcription service.
var knownProviders = map[string]bool{"whisper": true, "deepgram": true}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}

	// Storage validation
	if c.Storage.MinFreeDisk < 0 {
		return fmt.Errorf("storage.min_free_disk must not be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Pipeline validation
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("pipeline.concurrency must not be negative")
	}
	if c.Pipeline.FetchTimeout <= 0 || c.Pipeline.TranscribeTimeout <= 0 || c.Pipeline.MediaToolTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}

	// Selection validation
	if c.Selection.BufferSeconds < 0 {
		return fmt.Errorf("selection.buffer_seconds must not be negative")
	}
	if c.Selection.MergeGapSeconds < 0 {
		return fmt.Errorf("selection.merge_gap_seconds must not be negative")
	}

	// Surgery validation
	if c.Surgery.FadeSeconds < 0 {
		return fmt.Errorf("surgery.fade_seconds must not be negative")
	}

	// Assembly validation
	if c.Assembly.CrossfadeFrames < 1 {
		return fmt.Errorf("assembly.crossfade_frames must be at least 1")
	}
	if c.Assembly.FPS < 1 {
		return fmt.Errorf("assembly.fps must be at least 1")
	}
	if c.Assembly.Width < 16 || c.Assembly.Height < 16 {
		return fmt.Errorf("assembly.width and assembly.height must be at least 16")
	}
	if c.Assembly.CRF < 0 || c.Assembly.CRF > 51 {
		return fmt.Errorf("assembly.crf must be in 0..51")
	}

	// Mixer validation
	if c.Mixer.DuckingFloor < 0 || c.Mixer.DuckingCeiling < 0 {
		return fmt.Errorf("mixer ducking gains must not be negative")
	}
	if c.Mixer.DuckingFloor > c.Mixer.DuckingCeiling {
		return fmt.Errorf("mixer.ducking_floor must not exceed mixer.ducking_ceiling")
	}
	if c.Mixer.NarrationGain <= 0 || c.Mixer.FinalGain <= 0 {
		return fmt.Errorf("mixer.narration_gain and mixer.final_gain must be positive")
	}
	if c.Mixer.TrimBufferSeconds < 0 || c.Mixer.WindowTailSeconds < 0 {
		return fmt.Errorf("mixer trim buffer and window tail must not be negative")
	}

	// Transcription validation
	if len(c.Transcription.Providers) == 0 {
		return fmt.Errorf("transcription.providers must name at least one provider")
	}
	for _, p := range c.Transcription.Providers {
		if !knownProviders[p] {
			return fmt.Errorf("transcription.providers: unknown provider %q", p)
		}
	}
	if c.Transcription.TTLDays < 1 {
		return fmt.Errorf("transcription.ttl_days must be at least 1")
	}
	if c.Transcription.CacheMaxEntries < 1 {
		return fmt.Errorf("transcription.cache_max_entries must be at least 1")
	}

	// FFmpeg validation
	if c.FFmpeg.BinaryPath == "" || c.FFmpeg.ProbePath == "" {
		return fmt.Errorf("ffmpeg.binary_path and ffmpeg.probe_path must not be empty")
	}

	return nil
}

// TTL returns the cache TTL as a duration.
func (c *TranscriptionConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * duration.Day
}

// TransitionPath resolves a half-inning transition key to its expected
// file path within the transitions directory.
func (c *StorageConfig) TransitionPath(half string, inning int) string {
	return filepath.Join(c.TransitionsDir, fmt.Sprintf("%s-%d.mp4", half, inning))
}
