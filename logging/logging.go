// Package logging defines the Logger interface which is used throughout the safety rules service.
// It also includes functions for setting the global log level and a per-package log level.
//
// Per-package levels are matched against the name that a logger was created with,
// so SetPackageLogLevel("service", "debug") applies to "service" and "service.process".
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogTypeEnv is the environment variable that selects the log format.
// The value "json" selects structured JSON output.
const LogTypeEnv = "SAFETYRULES_LOG_TYPE"

var (
	mut           sync.RWMutex
	logLevel      = zapcore.InfoLevel
	packageLevels = make(map[string]zapcore.Level)
	loggers       = make(map[string][]zap.AtomicLevel)
)

// ParseLevel parses the name of a log level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "panic":
		return zap.PanicLevel, nil
	case "fatal":
		return zap.FatalLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level '%s'", level)
	}
}

func mustParseLevel(level string) zapcore.Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(err)
	}
	return l
}

// SetLogLevel sets the global log level.
func SetLogLevel(levelStr string) {
	level := mustParseLevel(levelStr)
	mut.Lock()
	defer mut.Unlock()
	logLevel = level
	refreshLevels()
}

// SetPackageLogLevel sets a log level for a package, overriding the global level.
func SetPackageLogLevel(packageName, levelStr string) {
	level := mustParseLevel(levelStr)
	mut.Lock()
	defer mut.Unlock()
	packageLevels[packageName] = level
	refreshLevels()
}

// levelFor returns the level of the longest package name that prefixes name.
// Requires mut to be held.
func levelFor(name string) zapcore.Level {
	level := logLevel
	best := -1
	for pkg, l := range packageLevels {
		if (name == pkg || strings.HasPrefix(name, pkg+".")) && len(pkg) > best {
			level, best = l, len(pkg)
		}
	}
	return level
}

// refreshLevels requires mut to be held for writing.
func refreshLevels() {
	for name, levels := range loggers {
		level := levelFor(name)
		for _, atom := range levels {
			atom.SetLevel(level)
		}
	}
}

func register(name string) zap.AtomicLevel {
	mut.Lock()
	defer mut.Unlock()
	atom := zap.NewAtomicLevelAt(levelFor(name))
	loggers[name] = append(loggers[name], atom)
	return atom
}

// Logger is the logging interface used by the safety rules service. It is based on zap.SugaredLogger
type Logger interface {
	DPanic(args ...interface{})
	DPanicf(template string, args ...interface{})
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Panic(args ...interface{})
	Panicf(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// New returns a new logger for stderr with the given name.
func New(name string) Logger {
	var config zap.Config
	if strings.ToLower(os.Getenv(LogTypeEnv)) == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	config.Level = register(name)
	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar().Named(name)
}

// NewWithDest returns a new logger for the given destination with the given name.
func NewWithDest(dest io.Writer, name string) Logger {
	atom := register(name)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(dest), atom)
	return zap.New(core).Sugar().Named(name)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return zap.NewNop().Sugar()
}
