// Package config resolves voxhub settings from flags, VOXHUB_* environment
// variables, an optional YAML file, an optional .env file and defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fmueller/voxhub/internal/platform"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "VOXHUB"

// Keys. Flags use the same names with dashes instead of underscores.
const (
	KeyRoot                 = "root"
	KeyRetention            = "retention"
	KeyModel                = "model"
	KeyModelDir             = "model_dir"
	KeyAutoDownload         = "auto_download"
	KeyLanguage             = "language"
	KeyAddr                 = "addr"
	KeyTranscriptCacheSize  = "transcript_cache_size"
	KeySilenceGate          = "silence_gate"
	KeySilenceThresholdDBFS = "silence_threshold_dbfs"
	KeyTimeout              = "timeout"
	KeyMaxUpload            = "max_upload"
	KeyRateLimit            = "rate_limit"
	KeyAllowedModels        = "allowed_models"
)

type Config struct {
	Root                 string
	Retention            time.Duration
	Model                string
	ModelDir             string
	AutoDownload         bool
	Language             string
	Addr                 string
	TranscriptCacheSize  int
	SilenceGate          bool
	SilenceThresholdDBFS float64
	Timeout              time.Duration
	MaxUploadBytes       int64
	// RateLimit is transcriptions per second across the process; 0 disables.
	RateLimit float64
	// AllowedModels are the extra model names HTTP clients may pick; Model
	// is always allowed.
	AllowedModels []string
}

func defaults() map[string]any {
	return map[string]any{
		KeyRoot:                 platform.DefaultWorkspaceRoot(),
		KeyRetention:            24 * time.Hour,
		KeyModel:                "small",
		KeyModelDir:             "",
		KeyAutoDownload:         true,
		KeyLanguage:             "auto",
		KeyAddr:                 "127.0.0.1:8501",
		KeyTranscriptCacheSize:  0,
		KeySilenceGate:          true,
		KeySilenceThresholdDBFS: -65.0,
		KeyTimeout:              time.Duration(0),
		KeyMaxUpload:            "25MB",
		KeyRateLimit:            0.0,
		KeyAllowedModels:        []string{},
	}
}

type LoadOptions struct {
	// ConfigFile is a YAML file; empty skips it, a missing file is an error.
	ConfigFile string
	// EnvFile is loaded into the process environment without overriding
	// variables that are already set. A missing EnvFile is ignored.
	EnvFile string
	// Flags are consulted for keys whose flag was set explicitly.
	Flags *pflag.FlagSet
}

func Load(opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			if err := godotenv.Load(opts.EnvFile); err != nil {
				return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for key := range defaults() {
			if flag := opts.Flags.Lookup(strings.ReplaceAll(key, "_", "-")); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag.Name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	maxUpload, err := humanize.ParseBytes(v.GetString(KeyMaxUpload))
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", KeyMaxUpload, err)
	}

	cfg := Config{
		Root:                 strings.TrimSpace(v.GetString(KeyRoot)),
		Retention:            v.GetDuration(KeyRetention),
		Model:                strings.TrimSpace(v.GetString(KeyModel)),
		ModelDir:             strings.TrimSpace(v.GetString(KeyModelDir)),
		AutoDownload:         v.GetBool(KeyAutoDownload),
		Language:             SanitizeLanguage(v.GetString(KeyLanguage)),
		Addr:                 strings.TrimSpace(v.GetString(KeyAddr)),
		TranscriptCacheSize:  v.GetInt(KeyTranscriptCacheSize),
		SilenceGate:          v.GetBool(KeySilenceGate),
		SilenceThresholdDBFS: v.GetFloat64(KeySilenceThresholdDBFS),
		Timeout:              v.GetDuration(KeyTimeout),
		MaxUploadBytes:       int64(maxUpload),
		RateLimit:            v.GetFloat64(KeyRateLimit),
		AllowedModels:        splitList(v.GetStringSlice(KeyAllowedModels)),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if c.TranscriptCacheSize < 0 {
		errs = append(errs, fmt.Errorf("transcript cache size must not be negative, got %d", c.TranscriptCacheSize))
	}
	if c.SilenceThresholdDBFS > 0 {
		errs = append(errs, fmt.Errorf("silence threshold must be at most 0 dBFS, got %g", c.SilenceThresholdDBFS))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) MaxUpload() string {
	return humanize.Bytes(uint64(c.MaxUploadBytes))
}

// splitList accepts both repeated values and comma separated ones, as env
// variables only carry a single string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func SanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
