package main

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-interp/config"
	"github.com/wippyai/wasm-interp/interp"
)

// initLogger sets up the CLI's own messages on charmbracelet/log and
// returns the zap logger handed to the runtime and interpreter.
func initLogger(cfg *config.Config, debug bool) *zap.Logger {
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    debug,
		ReportTimestamp: false,
		TimeFormat:      time.RFC3339,
		Prefix:          "run",
	}))
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	profile := termenv.NewOutput(os.Stderr).EnvColorProfile()
	if cfg.Log.NoColor {
		profile = termenv.Ascii
	}
	log.SetColorProfile(profile)
	lipgloss.SetColorProfile(profile)

	var zcfg zap.Config
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level())
	if profile == termenv.Ascii {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zlog, err := zcfg.Build()
	if err != nil {
		log.Warn("falling back to a no-op engine logger", "err", err)
		zlog = zap.NewNop()
	}
	interp.SetLogger(zlog)
	return zlog
}
