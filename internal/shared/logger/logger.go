package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options ajusta saídas extras do logger
type Options struct {
	// File, quando definido, duplica os logs em um arquivo rotacionado
	File string
}

func New(serviceName string, env string, opts ...Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var buildOpts []zap.Option
	for _, o := range opts {
		if o.File == "" {
			continue
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(cfg.EncoderConfig),
			zapcore.AddSync(rotatingFile(o.File)),
			cfg.Level,
		)
		buildOpts = append(buildOpts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	// campos depois do tee: assim stdout e arquivo recebem service e env
	buildOpts = append(buildOpts, zap.Fields(
		zap.String("service", serviceName),
		zap.String("env", env),
	))

	l, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func rotatingFile(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    25, // MB
		MaxBackups: 10,
		MaxAge:     14, // dias
		Compress:   true,
	}
}
