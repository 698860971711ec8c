package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

const DefaultConfigPath = "~/.config/tokysnatcher/config.yaml"

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Mirror   MirrorConfig   `mapstructure:"mirror" yaml:"mirror"`
}

type DownloadConfig struct {
	Folder            string  `mapstructure:"folder" yaml:"folder"`
	ChapterWorkers    int     `mapstructure:"chapter_workers" yaml:"chapter_workers"`
	SegmentWorkers    int     `mapstructure:"segment_workers" yaml:"segment_workers"`
	Extension         string  `mapstructure:"extension" yaml:"extension"`
	MinFileSize       int64   `mapstructure:"min_file_size" yaml:"min_file_size"`
	SkipExisting      bool    `mapstructure:"skip_existing" yaml:"skip_existing"`
	Retries           int     `mapstructure:"retries" yaml:"retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	PathHeader        string  `mapstructure:"path_header" yaml:"path_header"`
}

type HTTPConfig struct {
	Timeout          time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	KeepAliveTimeout time.Duration     `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`
	UserAgent        string            `mapstructure:"user_agent" yaml:"user_agent"`
	Proxy            string            `mapstructure:"proxy" yaml:"proxy"`
	ProxyUsername    string            `mapstructure:"proxy_username" yaml:"proxy_username"`
	ProxyPassword    string            `mapstructure:"proxy_password" yaml:"proxy_password"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers"`
}

type CatalogConfig struct {
	BaseURL          string   `mapstructure:"base_url" yaml:"base_url"`
	MediaURL         string   `mapstructure:"media_url" yaml:"media_url"`
	FallbackMediaURL string   `mapstructure:"fallback_media_url" yaml:"fallback_media_url"`
	PageSize         int      `mapstructure:"page_size" yaml:"page_size"`
	SkipSources      []string `mapstructure:"skip_sources" yaml:"skip_sources"`
}

type LogConfig struct {
	Debug bool   `mapstructure:"debug" yaml:"debug"`
	File  string `mapstructure:"file" yaml:"file"`
}

type MirrorConfig struct {
	S3URL   string `mapstructure:"s3_url" yaml:"s3_url"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"folder":          "download.folder",
	"chapter-workers": "download.chapter_workers",
	"segment-workers": "download.segment_workers",
	"extension":       "download.extension",
	"retries":         "download.retries",
	"rate":            "download.requests_per_second",
	"skip-existing":   "download.skip_existing",
	"timeout":         "http.timeout",
	"user-agent":      "http.user_agent",
	"proxy":           "http.proxy",
	"debug":           "log.debug",
	"mirror":          "mirror.s3_url",
	"aws-profile":     "mirror.profile",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.folder", ".")
	v.SetDefault("download.chapter_workers", 2)
	v.SetDefault("download.segment_workers", 4)
	v.SetDefault("download.extension", "mp3")
	v.SetDefault("download.min_file_size", 1024)
	v.SetDefault("download.skip_existing", true)
	v.SetDefault("download.retries", 2)
	v.SetDefault("download.requests_per_second", 0)
	v.SetDefault("download.path_header", "X-Track-Src")
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("http.keep_alive_timeout", "60s")
	v.SetDefault("http.user_agent", utils.ToolUserAgent)
	// env overrides only reach keys viper already knows about
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.proxy_username", "")
	v.SetDefault("http.proxy_password", "")
	v.SetDefault("mirror.s3_url", "")
	v.SetDefault("mirror.profile", "")
	v.SetDefault("catalog.base_url", "https://tokybook.com")
	v.SetDefault("catalog.media_url", "https://tokybook.com/api/v1/public/audio/")
	v.SetDefault("catalog.fallback_media_url", "")
	v.SetDefault("catalog.page_size", 12)
	v.SetDefault("catalog.skip_sources", []string{"https://file.tokybook.com/upload/welcome-you-to-tokybook.mp3"})
	v.SetDefault("log.debug", false)
	v.SetDefault("log.file", utils.LogFile)
}

// Load resolves configuration from defaults, an optional YAML file,
// TOKYSNATCHER_* environment variables and changed command-line flags, in
// increasing order of precedence. A missing file at the default path is fine,
// an explicitly requested one is not.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("error expanding config path %s: %w", path, err)
	}
	if _, err := os.Stat(expanded); err == nil {
		v.SetConfigFile(expanded)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", expanded, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", expanded)
	}

	v.SetEnvPrefix("TOKYSNATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Download.ChapterWorkers < 1 {
		return errors.New("download.chapter_workers must be at least 1")
	}
	if c.Download.SegmentWorkers < 0 {
		return errors.New("download.segment_workers must not be negative")
	}
	if c.Download.Retries < 0 {
		return errors.New("download.retries must not be negative")
	}
	if c.Download.RequestsPerSecond < 0 {
		return errors.New("download.requests_per_second must not be negative")
	}
	if c.Download.MinFileSize < 0 {
		c.Download.MinFileSize = 0
	}
	if c.Catalog.PageSize <= 0 {
		c.Catalog.PageSize = 12
	}
	if f := c.Catalog.FallbackMediaURL; f != "" && !strings.HasPrefix(f, "http://") && !strings.HasPrefix(f, "https://") {
		return fmt.Errorf("catalog.fallback_media_url must be an http(s) URL, got %s", f)
	}
	if c.Mirror.S3URL != "" && !strings.HasPrefix(c.Mirror.S3URL, "s3://") {
		return fmt.Errorf("mirror.s3_url must look like s3://bucket/prefix, got %s", c.Mirror.S3URL)
	}
	folder, err := utils.ExpandPath(c.Download.Folder)
	if err != nil {
		return err
	}
	c.Download.Folder = folder
	return nil
}

func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KeepAliveTimeout,
		ProxyURL:      c.HTTP.Proxy,
		ProxyUsername: c.HTTP.ProxyUsername,
		ProxyPassword: c.HTTP.ProxyPassword,
		UserAgent:     c.HTTP.UserAgent,
		Headers:       c.HTTP.Headers,
	}
}
