package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
//
// Library Configuration:
// - MOVIE_DIRS: comma-separated movie library roots (default: /media/movies)
// - TV_DIRS: comma-separated TV library roots (default: /media/tv)
// - DATA_DIR: directory for the catalog database (default: /data)
//
// Encoding Configuration:
// - FFMPEG_CMD: ffmpeg binary (default: ffmpeg)
// - FFPROBE_CMD: ffprobe binary (default: ffprobe)
// - TARGET_VIDEO_CODEC: codec accepted without transcoding (default: h264)
// - TARGET_AUDIO_CODEC: codec accepted without transcoding (default: mp3)
// - TARGET_LANGUAGE: preferred audio/subtitle language (default: en)
//
// Pipeline Configuration:
// - WATCH_DELAY_SECONDS: per-path debounce window (default: 10)
// - INDEX_CRON: cron expression for full index passes (default: 0 0 * * *)
//
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8787)
// - STREAM_DELAY_MS: live stream start-up delay buffer (default: 2000)
//
// Metadata Configuration:
// - METADATA_API_KEY: enrichment service API key (empty disables enrichment)
// - METADATA_API_URL: enrichment service base URL
type Config struct {
	Library  LibraryConfig  `json:"library"`
	Encoding EncodingConfig `json:"encoding"`
	Pipeline PipelineConfig `json:"pipeline"`
	HTTP     HTTPConfig     `json:"http"`
	Metadata MetadataConfig `json:"metadata"`
}

type LibraryConfig struct {
	MovieDirs []string `json:"movie_dirs"`
	TvDirs    []string `json:"tv_dirs"`
	DataDir   string   `json:"data_dir"`
}

func (c LibraryConfig) Roots() []string {
	ret := make([]string, 0, len(c.MovieDirs)+len(c.TvDirs))
	ret = append(ret, c.MovieDirs...)
	ret = append(ret, c.TvDirs...)
	return ret
}

func (c LibraryConfig) DatabasePath() string {
	return c.DataDir + "/catalog.db"
}

type EncodingConfig struct {
	FfmpegCmd      string       `json:"ffmpeg_cmd"`
	FfprobeCmd     string       `json:"ffprobe_cmd"`
	VideoCodec     string       `json:"video_codec"`
	AudioCodec     string       `json:"audio_codec"`
	TargetLanguage language.Tag `json:"target_language"`
}

type PipelineConfig struct {
	WatchDelay time.Duration `json:"watch_delay"`
	IndexCron  string        `json:"index_cron"`
}

type HTTPConfig struct {
	Addr        string        `json:"addr"`
	StreamDelay time.Duration `json:"stream_delay"`
}

type MetadataConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	lang, err := language.Parse(getEnvString("TARGET_LANGUAGE", "en"))
	if err != nil {
		return nil, fmt.Errorf("parse TARGET_LANGUAGE: %w", err)
	}

	config := &Config{
		Library: LibraryConfig{
			MovieDirs: getEnvStrings("MOVIE_DIRS", "/media/movies"),
			TvDirs:    getEnvStrings("TV_DIRS", "/media/tv"),
			DataDir:   getEnvString("DATA_DIR", "/data"),
		},
		Encoding: EncodingConfig{
			FfmpegCmd:      getEnvString("FFMPEG_CMD", "ffmpeg"),
			FfprobeCmd:     getEnvString("FFPROBE_CMD", "ffprobe"),
			VideoCodec:     getEnvString("TARGET_VIDEO_CODEC", "h264"),
			AudioCodec:     getEnvString("TARGET_AUDIO_CODEC", "mp3"),
			TargetLanguage: lang,
		},
		Pipeline: PipelineConfig{
			WatchDelay: time.Duration(getEnvInt("WATCH_DELAY_SECONDS", 10)) * time.Second,
			IndexCron:  getEnvString("INDEX_CRON", "0 0 * * *"),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8787"),
			StreamDelay: time.Duration(getEnvInt("STREAM_DELAY_MS", 2000)) * time.Millisecond,
		},
		Metadata: MetadataConfig{
			APIKey: getEnvString("METADATA_API_KEY", ""),
			APIURL: getEnvString("METADATA_API_URL", "https://api.themoviedb.org/3"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if len(c.Library.MovieDirs) == 0 && len(c.Library.TvDirs) == 0 {
		return fmt.Errorf("at least one of MOVIE_DIRS or TV_DIRS is required")
	}
	if c.Library.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStrings gets a comma-separated list from environment variables with default
func getEnvStrings(key, defaultValue string) []string {
	raw := getEnvString(key, defaultValue)
	parts := strings.Split(raw, ",")
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
