package core

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var once sync.Once

// logger fans a single call out to two independently-filtered sinks,
// mirroring VulkanMgr::putLog's separate "draw" and "save" log streams.
type logger struct {
	print *log.Logger
	file  *log.Logger
}

var singleton *logger

func getLogger() *logger {
	if singleton == nil {
		once.Do(func() {
			l := log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "corevk ",
			})
			l.SetLevel(log.DebugLevel)
			singleton = &logger{print: l}
		})
	}
	return singleton
}

// ConfigureLogging reconfigures the singleton once the Device Context
// configuration is known: it sets the print-level filter and, if
// savePath is non-empty, opens a truncate-on-open file sink filtered
// independently by writeLevel.
func ConfigureLogging(printLevel, writeLevel log.Level, savePath string) error {
	l := getLogger()
	l.print.SetLevel(printLevel)
	if savePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(savePath)
	if err != nil {
		return err
	}
	fl := log.NewWithOptions(io.Writer(f), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "corevk ",
	})
	fl.SetLevel(writeLevel)
	l.file = fl
	return nil
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().print.Debugf(msg, args...)
	if f := getLogger().file; f != nil {
		f.Debugf(msg, args...)
	}
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().print.Infof(msg, args...)
	if f := getLogger().file; f != nil {
		f.Infof(msg, args...)
	}
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().print.Warnf(msg, args...)
	if f := getLogger().file; f != nil {
		f.Warnf(msg, args...)
	}
}

func LogError(msg string, args ...interface{}) {
	getLogger().print.Errorf(msg, args...)
	if f := getLogger().file; f != nil {
		f.Errorf(msg, args...)
	}
}

// LogFatal logs to both sinks then terminates the process, matching
// the "log+terminate" treatment of unrecoverable configuration errors.
func LogFatal(msg string, args ...interface{}) {
	if f := getLogger().file; f != nil {
		f.Errorf(msg, args...)
	}
	getLogger().print.Fatalf(msg, args...)
}
