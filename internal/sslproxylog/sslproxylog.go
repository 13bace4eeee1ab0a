// Package sslproxylog initializes the process-wide logrus logger: a
// text formatter to stderr plus, when a log directory is configured, an
// lfshook-driven rotating file sink (SPEC_FULL §6 ambient logging
// stack), grounded on the convert_tunnel_detector InitLogger pattern.
package sslproxylog

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/rifflock/lfshook"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Init configures the default logrus logger. dir may be empty, in which
// case only the stderr text sink is installed. level is one of
// debug/info/warn/error/fatal/panic, case-insensitive; unrecognized
// values fall back to info.
func Init(level, dir string) error {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if dir == "" {
		return nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("sslproxylog: %w", err)
		}
	}

	logFileName := path.Join(dir, "sslproxy.log")
	writer, err := rotatelogs.New(
		logFileName+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("sslproxylog: %w", err)
	}

	hook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: writer,
		logrus.InfoLevel:  writer,
		logrus.WarnLevel:  writer,
		logrus.ErrorLevel: writer,
		logrus.FatalLevel: writer,
		logrus.PanicLevel: writer,
	}, &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	logrus.AddHook(hook)
	return nil
}
