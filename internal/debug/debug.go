package debug

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, commands, failures)
	LevelLive    = 2 // Live info (gait phases, leg moves)
	LevelVerbose = 3 // Verbose (IK angles, step plans)
	LevelTrace   = 4 // Trace (actuator writes, very low level)
)

var (
	level  atomic.Int32
	logger atomic.Pointer[zap.SugaredLogger]
	output io.Writer = os.Stdout
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, commands, failures)
// 2 = live info (gait phases, leg moves)
// 3 = verbose (IK angles, step plans, config)
// 4 = trace (actuator writes, very low level)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	if debugLevel > LevelOff {
		logger.Store(newLogger(output))
	} else {
		logger.Store(nil)
	}
}

// SetOutput redirects log output, e.g. to tee it into the web status stream.
// Call it before the motion goroutines start.
func SetOutput(w io.Writer) {
	output = w
	if Level() > LevelOff {
		logger.Store(newLogger(w))
	}
}

func newLogger(w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "t"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named("debbie").Sugar()
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func get(minLevel int) *zap.SugaredLogger {
	if Level() < minLevel {
		return nil
	}
	return logger.Load()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := get(LevelInfo); l != nil {
		l.Infof(format, args...)
	}
}

// Warn prints a non-fatal problem (level 1).
func Warn(format string, args ...interface{}) {
	if l := get(LevelInfo); l != nil {
		l.Warnf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := get(LevelInfo); l != nil {
		l.Info("═══════════════════════════════════════")
		l.Infof("  %s", title)
		l.Info("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := get(LevelLive); l != nil {
		l.Infof("[LIVE] "+format, args...)
	}
}

// Phase prints the start of a gait phase (level 2).
func Phase(num int, swing, stance string) {
	if l := get(LevelLive); l != nil {
		l.Infof("[LIVE] Phase %d: swing=%s stance=%s", num, swing, stance)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := get(LevelVerbose); l != nil {
		l.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := get(LevelVerbose); l != nil {
		l.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := get(LevelVerbose); l != nil {
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debugf("  %s", name)
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := get(LevelVerbose); l != nil {
		l.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l := get(LevelInfo); l != nil {
		l.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if l := get(LevelTrace); l != nil {
		l.Debugf("[TRACE] "+format, args...)
	}
}

// Servo prints an actuator operation (level 4).
func Servo(operation string, channel int, value interface{}) {
	if l := get(LevelTrace); l != nil {
		l.Debugf("[SERVO] %s channel=%d value=%v", operation, channel, value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if l := get(LevelInfo); l != nil {
		l.Errorf("%v", err)
	}
}

// Sync flushes buffered log entries.
func Sync() {
	if l := logger.Load(); l != nil {
		_ = l.Sync()
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
