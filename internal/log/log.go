package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	sugar    *zap.SugaredLogger
	initOnce sync.Once
	atom     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger builds the global console logger writing to stderr.
func initLogger() {
	initOnce.Do(func() {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			atom,
		)
		mu.Lock()
		sugar = zap.New(core).Sugar()
		mu.Unlock()
	})
}

// SetLevel changes the minimum level. Unknown values leave it unchanged.
func SetLevel(l Level) {
	initLogger()
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		atom.SetLevel(zapcore.DebugLevel)
	case LevelInfo:
		atom.SetLevel(zapcore.InfoLevel)
	case LevelWarn:
		atom.SetLevel(zapcore.WarnLevel)
	case LevelError:
		atom.SetLevel(zapcore.ErrorLevel)
	}
}

// SetLogger replaces the backing logger. Tests use zap.NewNop() or an
// observer core here.
func SetLogger(l *zap.Logger) {
	initLogger()
	mu.Lock()
	sugar = l.Sugar()
	mu.Unlock()
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = current().Sync()
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Errorw(msg, extended...)
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}
