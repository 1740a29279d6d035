package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	out, err := output(&cfg.File, cfg.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)

	return logger, nil
}

func output(file *config.FileConfig, kind string) (io.Writer, error) {
	switch kind {
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
		if err := os.MkdirAll(filepath.Dir(file.Path), 0755); err != nil {
			return nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSize, // megabytes
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAge, // days
			Compress:   true,
		}
		if kind == "both" {
			return io.MultiWriter(os.Stdout, rotating), nil
		}
		return rotating, nil
	default:
		return os.Stdout, nil
	}
}

// WithUser adds the acting user and request to every entry
func WithUser(logger *logrus.Logger, requestID string, userID int64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    userID,
	})
}
