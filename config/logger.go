package config

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prepare builds the session's *zap.Logger from LoggingConfig, following
// fbc's config/logger.go split: a low-priority console core for
// debug/info/warn and a high-priority one for error and above, each independently
// level-gated, plus an optional file core.
func (lc *LoggingConfig) Prepare() (*zap.Logger, error) {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(ec)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	var consoleCoreLP, consoleCoreHP zapcore.Core
	switch lc.Console.Level {
	case "debug":
		consoleCoreLP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.DebugLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority)
	case "normal":
		consoleCoreLP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.InfoLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority)
	default:
		consoleCoreLP = zapcore.NewNopCore()
		consoleCoreHP = zapcore.NewNopCore()
	}

	cores := []zapcore.Core{consoleCoreLP, consoleCoreHP}

	if lc.File.Destination != "" && lc.File.Level != "" && lc.File.Level != "none" {
		flags := os.O_CREATE | os.O_WRONLY
		if lc.File.Mode == "append" {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(lc.File.Destination, flags, 0o644)
		if err != nil {
			return nil, err
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		level := zapcore.InfoLevel
		if lc.File.Level == "debug" {
			level = zapcore.DebugLevel
		}
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
