package cli

import (
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// newLogger builds the run logger writing text to out and, when file is
// set, JSON lines to a rotated file. The returned function closes the file.
func newLogger(level, file string, out io.Writer) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if file == "" {
		return logger, func() error { return nil }, nil
	}

	rotated := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}

	logger.AddHook(&fileHook{
		writer:    rotated,
		formatter: &logrus.JSONFormatter{},
		levels:    logrus.AllLevels[:lvl+1],
	})

	return logger, rotated.Close, nil
}

// fileHook writes every entry to writer with its own formatter.
type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *fileHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}

	_, err = h.writer.Write(line)

	return err
}
