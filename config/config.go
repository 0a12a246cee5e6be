package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxConcurrentTasks = 3
	DefaultAlbumConcurrency   = 4
	DefaultPartSizeKB         = 512
	DefaultTaskTTL            = 30 * time.Minute
	DefaultSweepInterval      = time.Minute
	DefaultKeepaliveInterval  = 15 * time.Second
	DefaultMinPercentStep     = 2
	DefaultMinRenderInterval  = 1500 * time.Millisecond
)

// partSizesKB are the part sizes a file part request accepts: multiples of 4 KiB that divide 1 MiB.
var partSizesKB = []int{4, 8, 16, 32, 64, 128, 256, 512}

var mediaKinds = []string{"photo", "video_note", "video", "audio", "voice", "animation", "sticker", "document"}

type Config struct {
	DownloadDir        string        `json:"download_dir"         yaml:"download_dir"`
	CredsDir           string        `json:"creds_dir"            yaml:"creds_dir"`
	FromIDs            []int64       `json:"from_ids"             yaml:"from_ids"`
	MaxConcurrentTasks int           `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	AlbumConcurrency   int           `json:"album_concurrency"    yaml:"album_concurrency"`
	PartSizeKB         int           `json:"part_size_kb"         yaml:"part_size_kb"`
	AllowedKinds       []string      `json:"allowed_kinds"        yaml:"allowed_kinds"`
	TaskTTL            time.Duration `json:"task_ttl"             yaml:"task_ttl"`
	SweepInterval      time.Duration `json:"sweep_interval"       yaml:"sweep_interval"`
	LogFormat          string        `json:"log_format"           yaml:"log_format"`
	HTTP               HTTP          `json:"http"                 yaml:"http"`
	Progress           Progress      `json:"progress"             yaml:"progress"`
}

type HTTP struct {
	ListenAddr        string        `json:"listen_addr"        yaml:"listen_addr"`
	KeepaliveInterval time.Duration `json:"keepalive_interval" yaml:"keepalive_interval"`
}

type Progress struct {
	MinPercentStep float64       `json:"min_percent_step" yaml:"min_percent_step"`
	MinInterval    time.Duration `json:"min_interval"     yaml:"min_interval"`
}

func (cfg *Config) setDefaults() {
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.AlbumConcurrency == 0 {
		cfg.AlbumConcurrency = DefaultAlbumConcurrency
	}
	if cfg.PartSizeKB == 0 {
		cfg.PartSizeKB = DefaultPartSizeKB
	}
	if cfg.TaskTTL == 0 {
		cfg.TaskTTL = DefaultTaskTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "pretty"
	}
	if cfg.HTTP.KeepaliveInterval == 0 {
		cfg.HTTP.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Progress.MinPercentStep == 0 {
		cfg.Progress.MinPercentStep = DefaultMinPercentStep
	}
	if cfg.Progress.MinInterval == 0 {
		cfg.Progress.MinInterval = DefaultMinRenderInterval
	}
}

func (cfg *Config) validate() error {
	if cfg.DownloadDir == "" {
		return errors.New("download dir is empty")
	}

	if cfg.CredsDir == "" {
		return errors.New("creds dir is empty")
	}

	if cfg.MaxConcurrentTasks < 1 || cfg.MaxConcurrentTasks > 32 {
		return fmt.Errorf("max concurrent tasks must be within [1, 32], got %d", cfg.MaxConcurrentTasks)
	}

	if cfg.AlbumConcurrency < 0 {
		return fmt.Errorf("album concurrency must not be negative, got %d", cfg.AlbumConcurrency)
	}

	if !slices.Contains(partSizesKB, cfg.PartSizeKB) {
		return fmt.Errorf("part size must be one of %v KiB, got %d", partSizesKB, cfg.PartSizeKB)
	}

	for _, k := range cfg.AllowedKinds {
		if !slices.Contains(mediaKinds, k) {
			return fmt.Errorf("unknown media kind %q in allowed kinds", k)
		}
	}

	if cfg.TaskTTL < 0 {
		return errors.New("task ttl must not be negative")
	}

	if cfg.SweepInterval < 0 {
		return errors.New("sweep interval must not be negative")
	}

	if cfg.LogFormat != "pretty" && cfg.LogFormat != "packed" {
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	if cfg.HTTP.KeepaliveInterval < 0 {
		return errors.New("http keepalive interval must not be negative")
	}

	if cfg.Progress.MinPercentStep < 0 || cfg.Progress.MinPercentStep > 100 {
		return fmt.Errorf("progress min percent step must be within [0, 100], got %v", cfg.Progress.MinPercentStep)
	}

	if cfg.Progress.MinInterval < 0 {
		return errors.New("progress min interval must not be negative")
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	cfg, err := parse(data)
	if nil != err {
		return nil, fmt.Errorf("failed to load config file %q: %v", filePath, err)
	}

	return cfg, nil
}

func FromString(data string) (*Config, error) {
	return parse([]byte(data))
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
