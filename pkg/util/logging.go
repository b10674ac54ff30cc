package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogger initializing default logger; debugMode lowers the
// level to debug, a non-empty logDir adds JSON log files next to the console
func DefaultLogger(debugMode bool, logDir string) (*zap.Logger, error) {
	logDir = strings.TrimSpace(logDir)

	minLevel := zapcore.InfoLevel
	if debugMode {
		minLevel = zapcore.DebugLevel
	}

	//---------------------------------------------------------------------------
	// log enablers and conjunction
	//---------------------------------------------------------------------------
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})

	// console output goes to stderr only, stdout belongs to the command output
	console := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(os.Stderr)), highPriority),
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(os.Stderr)), lowPriority),
	}

	if logDir == "" {
		return zap.New(zapcore.NewTee(cores...)), nil
	}

	// creating log directory if it doesn't exist
	if err := CreateDirectoryIfNotExists(logDir, 0750); err != nil {
		return nil, err
	}

	//---------------------------------------------------------------------------
	// errors logfile
	//---------------------------------------------------------------------------
	errFilepath := filepath.Join(logDir, "errors.log")
	errFile, err := os.OpenFile(errFilepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create error log file %s", errFilepath)
	}

	//---------------------------------------------------------------------------
	// regular logfile
	//---------------------------------------------------------------------------
	stdFilepath := filepath.Join(logDir, "standard.log")
	stdFile, err := os.OpenFile(stdFilepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create standard log file %s", stdFilepath)
	}

	json := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	cores = append(
		cores,
		zapcore.NewCore(json, zapcore.Lock(zapcore.AddSync(errFile)), highPriority),
		zapcore.NewCore(json, zapcore.Lock(zapcore.AddSync(stdFile)), lowPriority),
	)

	return zap.New(zapcore.NewTee(cores...)), nil
}
