package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aitrader/internal/config"
)

func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	output := strings.ToLower(strings.TrimSpace(cfg.Output))
	if output != "stderr" {
		output = "stdout"
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding(cfg.Encoding),
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		Sampling:          nil,
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
	}

	if zc.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	if cfg.Sampling {
		zc.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	}

	return zc.Build()
}

// NewWorker builds the logger used inside a worker process. Stdout carries the
// control protocol, so everything goes to stderr and is tagged with the run.
func NewWorker(cfg config.LogConfig, simulationID string, pid int) (*zap.Logger, error) {
	cfg.Output = "stderr"
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return l.With(
		zap.String("component", "worker"),
		zap.String("simulation_id", simulationID),
		zap.Int("pid", pid),
	), nil
}

func encoding(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		return "json"
	default:
		return "console"
	}
}
