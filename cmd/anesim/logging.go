package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging sets the level of the standard logger and, when a file is
// named, copies its output to a rotated file.  The returned closer releases the file.
func setupLogging(level string, opts FileAppenderOpt) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if opts.Filename == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	writer := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSize,    // megabytes
		MaxBackups: opts.MaxBackups, // number of backups
		MaxAge:     opts.MaxAge,     // days
		Compress:   opts.Compress,   // compress the backups
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, writer))
	return writer, nil
}
