package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File, when set, receives JSON logs in addition to the console.
	File       string
	MaxAgeDays int
}

// New builds the process logger: a console core on stderr, teed with a
// rotating JSON file core when Options.File is set.
func New(opts Options) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if opts.Level != "" {
		if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if opts.File != "" {
		maxAge := opts.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 7
		}
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxAge:     maxAge,
			MaxBackups: maxAge,
			LocalTime:  true,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rot), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
