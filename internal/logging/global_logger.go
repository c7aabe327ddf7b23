package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory.
const LogFileName = "curl2.log"

var (
	setupOnce sync.Once

	fileMu  sync.Mutex
	logFile *lumberjack.Logger
	opened  fileSpec
)

// fileSpec is what an open log file was created from.
type fileSpec struct {
	path     string
	rotation config.LogRotation
}

// SetupBaseLogger routes slog and gin to stderr. Stdout carries response
// bodies and is never logged to.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		SetOutput(os.Stderr)
		SetLevel(slog.LevelInfo)
		SetReportCaller(true)

		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = WriterLevel(slog.LevelDebug)
		gin.DefaultErrorWriter = WriterLevel(slog.LevelError)
		gin.DebugPrintFunc = func(format string, values ...any) {
			Debugf(format, values...)
		}
	})
}

// logDir resolves the configured directory, falling back to
// $WRITABLE_PATH/logs and then ./logs.
func logDir(dir string) string {
	if dir != "" {
		return dir
	}
	if base := writablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	return "logs"
}

// ConfigureLogOutput applies cfg's logging-to-file settings. The open file is
// kept when neither its path nor its rotation policy changed, so a config
// reload keeps appending to the current segment.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	fileMu.Lock()
	defer fileMu.Unlock()

	if !cfg.LoggingToFile {
		return closeFileLocked()
	}

	dir := logDir(cfg.LogDir)
	want := fileSpec{path: filepath.Join(dir, LogFileName), rotation: cfg.LogRotation}
	if logFile != nil && opened == want {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create %s: %w", dir, err)
	}

	next := &lumberjack.Logger{
		Filename:   want.path,
		MaxSize:    want.rotation.MaxSizeMB,
		MaxBackups: want.rotation.MaxBackups,
		MaxAge:     want.rotation.MaxAgeDays,
		Compress:   want.rotation.Compress,
	}
	SetOutput(next)
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile, opened = next, want
	return nil
}

// FilePath returns the active log file, or "" when logging to stderr.
func FilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Filename
}

// Rotate starts a new log segment. It does nothing when logging to stderr.
func Rotate() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return nil
	}
	return logFile.Rotate()
}

// Close closes the log file and sends any later lines to stderr.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	return closeFileLocked()
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	SetOutput(os.Stderr)
	err := logFile.Close()
	logFile, opened = nil, fileSpec{}
	return err
}
