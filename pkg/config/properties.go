package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/cursus-store/util"
)

// Config represents the store configuration including tunable flush options
type Config struct {
	// Server settings
	BrokerPort     int           `yaml:"broker_port" json:"broker.port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`

	// Segment files
	LogDir         string `yaml:"log_dir" json:"log.dir"`
	SegmentSize    int    `yaml:"segment_size" json:"segment.size"`
	WarmMappedFile bool   `yaml:"warm_mapped_file" json:"warm.mapped.file"`
	// WarmupFlushPages is how many pages a sync-mode warm-up touches between forced flushes.
	WarmupFlushPages int `yaml:"warmup_flush_pages" json:"warmup.flush.pages"`

	// Flush
	FlushDiskType           string `yaml:"flush_disk_type" json:"flush.disk.type"`
	FlushLeastPages         int    `yaml:"flush_least_pages" json:"flush.least.pages"`
	FlushIntervalMS         int    `yaml:"flush_interval_ms" json:"flush.interval.ms"`
	FlushThoroughIntervalMS int    `yaml:"flush_thorough_interval_ms" json:"flush.thorough.interval.ms"`

	// Retention
	DestroyGraceMS           int `yaml:"destroy_grace_ms" json:"destroy.grace.ms"`
	RetentionHours           int `yaml:"retention_hours" json:"retention.hours"`
	RetentionCheckIntervalMS int `yaml:"retention_check_interval_ms" json:"retention.check.interval.ms"`
	DeleteFilesPerSecond     int `yaml:"delete_files_per_second" json:"delete.files.per.second"`

	// Records
	CompressionType string `yaml:"compression_type" json:"compression.type"`
	MaxMessageSize  int    `yaml:"max_message_size" json:"max.message.size"`
}

// LoadConfig builds the configuration from command line flags, an optional
// YAML/JSON file (-config or CONFIG_PATH) and CURSUS_* environment variables.
// Flag defaults are overridden by the file, the file by the environment, and
// everything by flags given explicitly.
func LoadConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load is LoadConfig over an explicit flag set and argument list.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	configPath := fs.String("config", "", "Path to YAML/JSON config file")
	logDir := fs.String("log-dir", "broker-logs", "Directory holding segment files")
	segmentSize := fs.String("segment-size", "64m", "Segment file size in bytes (k/m/g suffix allowed)")
	flushType := fs.String("flush-disk-type", "async", "Flush policy (async, sync)")
	flushLeastPages := fs.Int("flush-least-pages", 4, "Dirty pages required before a periodic flush")
	flushInterval := fs.Int("flush-interval-ms", 500, "Periodic flush interval (ms)")
	warm := fs.Bool("warm-mapped-file", false, "Touch every page of a new segment")
	retention := fs.Int("retention-hours", 72, "Hours a segment is kept after its last write")
	compression := fs.String("compression", "none", "Payload compression (none, gzip, snappy, lz4, zstd)")
	port := fs.Int("port", 9000, "Command server port")
	exporter := fs.Bool("exporter", false, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", 9100, "Exporter port")
	logLevel := fs.String("log-level", "info", "Log Level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	appliers := map[string]func(cfg *Config){
		"log-dir":           func(cfg *Config) { cfg.LogDir = *logDir },
		"segment-size":      func(cfg *Config) { cfg.SegmentSize = util.ParseSize(*segmentSize, cfg.SegmentSize) },
		"flush-disk-type":   func(cfg *Config) { cfg.FlushDiskType = *flushType },
		"flush-least-pages": func(cfg *Config) { cfg.FlushLeastPages = *flushLeastPages },
		"flush-interval-ms": func(cfg *Config) { cfg.FlushIntervalMS = *flushInterval },
		"warm-mapped-file":  func(cfg *Config) { cfg.WarmMappedFile = *warm },
		"retention-hours":   func(cfg *Config) { cfg.RetentionHours = *retention },
		"compression":       func(cfg *Config) { cfg.CompressionType = *compression },
		"port":              func(cfg *Config) { cfg.BrokerPort = *port },
		"exporter":          func(cfg *Config) { cfg.EnableExporter = *exporter },
		"exporter-port":     func(cfg *Config) { cfg.ExporterPort = *exporterPort },
		"log-level":         func(cfg *Config) { cfg.LogLevel = util.ParseLogLevel(*logLevel) },
	}

	cfg := &Config{}
	for _, apply := range appliers {
		apply(cfg)
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		if apply, ok := appliers[f.Name]; ok {
			apply(cfg)
		}
	})

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
