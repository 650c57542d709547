package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/util"
)

const (
	DefaultSegmentSize = 64 << 20
	// MinSegmentSize is one OS page.
	MinSegmentSize = segment.OSPageSize
)

func (cfg *Config) Normalize() {
	if cfg.BrokerPort <= 0 {
		cfg.BrokerPort = 9000
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	// segment files
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "broker-logs"
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if cfg.SegmentSize < MinSegmentSize {
		util.Warn("SegmentSize %d is below one page, using %d", cfg.SegmentSize, MinSegmentSize)
		cfg.SegmentSize = MinSegmentSize
	}
	if rem := cfg.SegmentSize % segment.OSPageSize; rem != 0 {
		cfg.SegmentSize += segment.OSPageSize - rem
	}
	if cfg.WarmupFlushPages <= 0 {
		cfg.WarmupFlushPages = 1024
	}

	// flush
	policy, err := segment.ParseFlushPolicy(cfg.FlushDiskType)
	if err != nil {
		util.Warn("Invalid flush_disk_type '%s', defaulting to 'async'", cfg.FlushDiskType)
		policy = segment.FlushAsync
	}
	cfg.FlushDiskType = policy.String()
	if cfg.FlushLeastPages < 0 {
		cfg.FlushLeastPages = 4
	}
	if cfg.FlushIntervalMS <= 0 {
		cfg.FlushIntervalMS = 500
	}
	if cfg.FlushThoroughIntervalMS <= 0 {
		cfg.FlushThoroughIntervalMS = 10000
	}

	// retention
	if cfg.DestroyGraceMS <= 0 {
		cfg.DestroyGraceMS = 120000
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 72
	}
	if cfg.RetentionCheckIntervalMS <= 0 {
		cfg.RetentionCheckIntervalMS = 10000
	}
	if cfg.DeleteFilesPerSecond <= 0 {
		cfg.DeleteFilesPerSecond = 10
	}

	// records
	cfg.CompressionType = strings.ToLower(strings.TrimSpace(cfg.CompressionType))
	if cfg.CompressionType == "" {
		cfg.CompressionType = "none"
	}
	if _, err := util.CompressionCode(cfg.CompressionType); err != nil {
		util.Warn("Invalid compression_type '%s', defaulting to 'none'", cfg.CompressionType)
		cfg.CompressionType = "none"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4 << 20
	}
}

// FlushPolicy returns the parsed FlushDiskType; call after Normalize.
func (cfg *Config) FlushPolicy() segment.FlushPolicy {
	p, err := segment.ParseFlushPolicy(cfg.FlushDiskType)
	if err != nil {
		return segment.FlushAsync
	}
	return p
}

func applyEnv(cfg *Config) {
	overrideEnvString(&cfg.LogDir, "CURSUS_LOG_DIR")
	overrideEnvSize(&cfg.SegmentSize, "CURSUS_SEGMENT_SIZE")
	overrideEnvBool(&cfg.WarmMappedFile, "CURSUS_WARM_MAPPED_FILE")
	overrideEnvInt(&cfg.WarmupFlushPages, "CURSUS_WARMUP_FLUSH_PAGES")
	overrideEnvString(&cfg.FlushDiskType, "CURSUS_FLUSH_DISK_TYPE")
	overrideEnvInt(&cfg.FlushLeastPages, "CURSUS_FLUSH_LEAST_PAGES")
	overrideEnvInt(&cfg.FlushIntervalMS, "CURSUS_FLUSH_INTERVAL_MS")
	overrideEnvInt(&cfg.FlushThoroughIntervalMS, "CURSUS_FLUSH_THOROUGH_INTERVAL_MS")
	overrideEnvInt(&cfg.DestroyGraceMS, "CURSUS_DESTROY_GRACE_MS")
	overrideEnvInt(&cfg.RetentionHours, "CURSUS_RETENTION_HOURS")
	overrideEnvInt(&cfg.RetentionCheckIntervalMS, "CURSUS_RETENTION_CHECK_INTERVAL_MS")
	overrideEnvInt(&cfg.DeleteFilesPerSecond, "CURSUS_DELETE_FILES_PER_SECOND")
	overrideEnvString(&cfg.CompressionType, "CURSUS_COMPRESSION_TYPE")
	overrideEnvSize(&cfg.MaxMessageSize, "CURSUS_MAX_MESSAGE_SIZE")
	overrideEnvBool(&cfg.EnableExporter, "CURSUS_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "CURSUS_EXPORTER_PORT")
	overrideEnvInt(&cfg.BrokerPort, "CURSUS_BROKER_PORT")
	if v := os.Getenv("CURSUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvSize(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseSize(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
