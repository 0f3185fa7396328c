package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (mode changes, interlocks, homing results)
	LevelLive    = 2 // Live info (targets, joystick commands)
	LevelVerbose = 3 // Verbose (per-cycle values, PID output)
	LevelTrace   = 4 // Trace (GPIO, SPI, I2C, very low level)
)

const prefix = "[ArmGo] "

var (
	mu     sync.Mutex
	level  int
	logger *log.Logger
	color  bool
)

// ANSI colours for the tags that matter at the bench.
var tagColors = map[string]string{
	"[ERROR]":  "\033[31m",
	"[SAFETY]": "\033[1;31m",
	"[WARN]":   "\033[33m",
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (interlocks, homing, mode changes)
// 2 = live info (targets reached, new targets, manual commands)
// 3 = verbose (cycle values, sensor readings, PID output)
// 4 = trace (GPIO, bus transfers)
//
// Output goes to stdout. On a terminal, safety and error tags are coloured.
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level > LevelOff {
		color = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		logger = log.New(colorable.NewColorableStdout(), prefix, log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects diagnostics to w (e.g. stdout + serial line + web stream).
// Colours are disabled since w is not known to be a terminal.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	color = false
	if logger == nil {
		logger = log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
		return
	}
	logger.SetOutput(w)
}

// snapshot returns the settings Init and SetOutput write.
func snapshot() (int, *log.Logger, bool) {
	mu.Lock()
	defer mu.Unlock()
	return level, logger, color
}

// Level returns the current debug level.
func Level() int {
	lvl, _, _ := snapshot()
	return lvl
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// enabled returns the logger when minLevel is active, or nil.
func enabled(minLevel int) *log.Logger {
	lvl, lg, _ := snapshot()
	if lvl < minLevel {
		return nil
	}
	return lg
}

func emit(minLevel int, tag, format string, args ...interface{}) {
	lvl, lg, col := snapshot()
	if lvl < minLevel || lg == nil {
		return
	}
	if col {
		if c, ok := tagColors[tag]; ok {
			tag = c + tag + "\033[0m"
		}
	}
	msg := fmt.Sprintf(format, args...)
	if tag != "" {
		msg = tag + " " + msg
	}
	lg.Print(msg)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, "[INFO]", format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	emit(LevelInfo, "[WARN]", format, args...)
}

// Safety prints an interlock or calibration diagnostic. These are the
// messages an operator has to act on, so they print at any level above off.
func Safety(format string, args ...interface{}) {
	emit(LevelInfo, "[SAFETY]", format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if lg := enabled(LevelInfo); lg != nil {
		lg.Printf("═══════════════════════════════════════")
		lg.Printf("  %s", title)
		lg.Printf("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, "[LIVE]", format, args...)
}

// Move prints a motor command (level 2).
func Move(axis string, velocity int, scale float64) {
	emit(LevelLive, "[LIVE]", "Axis %s: rotate %d steps/s x %.3f", axis, velocity, scale)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, "[VERBOSE]", format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, "[VERBOSE]", "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	if lg := enabled(LevelVerbose); lg != nil {
		lg.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		lg.Printf("  %s", name)
		lg.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, "[VERBOSE]", "Step %d: %s", num, description)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, "[INFO]", "  %s = %v", name, value)
}

// Axis prints live per-axis sensor values (level 3).
func Axis(name string, raw uint16, deg int) {
	emit(LevelVerbose, "[VERBOSE]", "Axis %s: raw=%d deg=%d", name, raw, deg)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, "[TRACE]", format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, "[GPIO]", "%s pin=%d value=%v", operation, pin, value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, "[ERROR]", "%v", err)
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > LevelOff {
		return fmt.Sprintf(format, args...)
	}
	return ""
}

// StripColor removes the ANSI sequences emit may have added. Used by sinks
// that are not terminals.
func StripColor(s string) string {
	if !strings.Contains(s, "\033[") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
