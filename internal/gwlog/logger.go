// Package gwlog builds the gateway's zap.Logger from its logging
// configuration: console output, optional rotated file output, and either
// human-readable or JSON encoding.
package gwlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config describes where and how the gateway writes its logs.
type Config struct {
	Level         string
	EnableConsole bool
	EnableFile    bool
	JSONFormat    bool

	// File output, only consulted when EnableFile is set.
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Default returns console-only, human-readable, info-level logging.
func Default() Config {
	return Config{
		Level:         LevelInfo,
		EnableConsole: true,
		EnableFile:    false,
		Filename:      "mcpgatewayd.log",
		MaxSizeMB:     10,
		MaxBackups:    5,
		MaxAgeDays:    30,
		Compress:      true,
	}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a zap.Logger from cfg. At least one of EnableConsole/EnableFile
// must be set. The returned AtomicLevel gates every core built here, so a
// caller (the dispatcher's logging/setLevel handler) can raise or lower
// verbosity at runtime without rebuilding the logger.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(consoleEncoder(cfg.JSONFormat), zapcore.AddSync(os.Stderr), atom))
	}
	if cfg.EnableFile {
		core, err := fileCore(cfg, atom)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("building file log core: %w", err)
		}
		cores = append(cores, core)
	}
	if len(cores) == 0 {
		return nil, zap.AtomicLevel{}, fmt.Errorf("logging config enables neither console nor file output")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), atom, nil
}

// SetLevel parses one of the MCP logging/setLevel level names (RFC 5424
// severities) into the nearest zapcore.Level and applies it to atom. MCP's
// levels are finer-grained than zap's; several collapse onto one zap level.
func SetLevel(atom zap.AtomicLevel, mcpLevel string) error {
	switch mcpLevel {
	case "debug":
		atom.SetLevel(zap.DebugLevel)
	case "info", "notice":
		atom.SetLevel(zap.InfoLevel)
	case "warning":
		atom.SetLevel(zap.WarnLevel)
	case "error", "critical":
		atom.SetLevel(zap.ErrorLevel)
	case "alert", "emergency":
		atom.SetLevel(zap.DPanicLevel)
	default:
		return fmt.Errorf("unrecognized logging level %q", mcpLevel)
	}
	return nil
}

func consoleEncoder(jsonFormat bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	if jsonFormat {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func fileCore(cfg Config, level zapcore.LevelEnabler) (zapcore.Core, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("file logging enabled without a filename")
	}
	if dir := filepath.Dir(cfg.Filename); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(writer), level), nil
}
