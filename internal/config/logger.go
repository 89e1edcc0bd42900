package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger configures the process-wide logrus logger from config.
func InitLogger(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info'", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch strings.ToLower(cfg.Log.Output) {
	case "file":
		rotateLogger, err := rotatingWriter(cfg)
		if err != nil {
			return err
		}
		logrus.SetOutput(rotateLogger)
	case "both":
		rotateLogger, err := rotatingWriter(cfg)
		if err != nil {
			return err
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotateLogger))
	default:
		logrus.SetOutput(os.Stdout)
	}

	logrus.Infof("Logger initialized - Level: %s, Format: %s, Output: %s",
		cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	return nil
}

func rotatingWriter(cfg *Config) (io.Writer, error) {
	logDir := filepath.Dir(cfg.Log.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		LocalTime:  true,
	}, nil
}
