// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lWriter "github.com/sirupsen/logrus/hooks/writer"
)

// Options select where and how much is logged.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// File receives a copy of every entry when set.
	File string
	// Stderr is the primary writer; nil means os.Stderr.
	Stderr io.Writer
}

// ParseLevel accepts the level names used in the configuration file. An
// empty string is info.
func ParseLevel(s string) (logrus.Level, error) {
	switch s {
	case "":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// Setup initializes the standard logger. The returned closer releases the
// log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.StandardLogger()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	writers := []io.Writer{stderr}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger.ReplaceHooks(make(logrus.LevelHooks))
	logger.AddHook(&lWriter.Hook{
		Writer:    io.MultiWriter(writers...),
		LogLevels: levelsUpTo(level),
	})
	return closer, nil
}

func levelsUpTo(max logrus.Level) []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= max {
			levels = append(levels, l)
		}
	}
	return levels
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
