package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dir     string
	File    string // defaults to api_monitor.log
	Level   string // zap level name, defaults to info
	Console bool   // tee to stderr
}

// NewLogger writes JSON logs to a rotated file under logDir at info level.
func NewLogger(logDir string) (*zap.Logger, error) {
	return New(Options{Dir: logDir})
}

func New(o Options) (*zap.Logger, error) {
	if o.Dir == "" {
		o.Dir = "logs"
	}
	if o.File == "" {
		o.File = "api_monitor.log"
	}
	level := zap.InfoLevel
	if o.Level != "" {
		l, err := zapcore.ParseLevel(o.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(o.Dir, o.File),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)}

	if o.Console {
		ccfg := zap.NewDevelopmentEncoderConfig()
		ccfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
