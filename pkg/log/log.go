// Package log is a logging subsystem providing leveled printers with code
// location tracing and a shared output control.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// The Level s
const (
	Off Level = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

var (
	// LvlStrShort is a map of compact level tags used in the printer.
	LvlStrShort = map[Level]string{
		Off:   "",
		Fatal: "FTL",
		Error: "ERR",
		Warn:  "WRN",
		Info:  "INF",
		Debug: "DBG",
		Trace: "TRC",
	}
	lvlFromStr = map[string]Level{
		"off":   Off,
		"fatal": Fatal,
		"error": Error,
		"warn":  Warn,
		"info":  Info,
		"debug": Debug,
		"trace": Trace,
	}

	writer   io.Writer = os.Stderr
	writerMx sync.Mutex
	logLevel = Info

	std = GetLogger()
)

type (
	// Level is a code representing a scale of importance and context for log
	// entries.
	Level int32
	// Println prints lists of interfaces with spaces in between.
	Println func(a ...interface{})
	// Printf prints like fmt.Printf surrounded by log details.
	Printf func(format string, a ...interface{})
	// Prints prints a spew.Sdump for an interface slice.
	Prints func(a ...interface{})
	// Chk prints a log entry if the error is non-nil and reports whether it
	// was.
	Chk func(e error) bool
	// LevelPrinter is the set of printing primitives available at one level.
	LevelPrinter struct {
		Ln  Println
		F   Printf
		S   Prints
		Chk Chk
	}
	// Logger is a set of LevelPrinter for the various Level items.
	Logger struct {
		F, E, W, I, D, T LevelPrinter
	}
)

// GetStd returns the process-wide standard logger.
func GetStd() *Logger { return std }

// GetLogger returns a fresh set of level printers.
func GetLogger() (l *Logger) {
	return &Logger{
		getOnePrinter(Fatal),
		getOnePrinter(Error),
		getOnePrinter(Warn),
		getOnePrinter(Info),
		getOnePrinter(Debug),
		getOnePrinter(Trace),
	}
}

// Fail prints an error at Error level if it is non-nil and reports whether it
// was.
func (l *Logger) Fail(e error) bool { return l.E.Chk(e) }

func SetLogLevel(l Level) {
	writerMx.Lock()
	defer writerMx.Unlock()
	logLevel = l
}

// SetLogLevelName sets the log level from its lower case string name, leaving
// the level unchanged if the name is not recognised.
func SetLogLevelName(name string) {
	if l, ok := lvlFromStr[strings.ToLower(name)]; ok {
		SetLogLevel(l)
	}
}

func GetLogLevel() (l Level) {
	writerMx.Lock()
	defer writerMx.Unlock()
	return logLevel
}

func SetWriter(w io.Writer) {
	writerMx.Lock()
	defer writerMx.Unlock()
	writer = w
}

// GetLoc calls runtime.Caller to get the path and line of the calling source
// code file.
func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	return fmt.Sprint(file, ":", line)
}

func getOnePrinter(level Level) LevelPrinter {
	return LevelPrinter{
		Ln: func(a ...interface{}) {
			logPrint(level, func() string { return joinStrings(" ", a...) })
		},
		F: func(format string, a ...interface{}) {
			logPrint(level, func() string { return fmt.Sprintf(format, a...) })
		},
		S: func(a ...interface{}) {
			logPrint(level, func() string { return "spew:\n" + spew.Sdump(a...) })
		},
		Chk: func(e error) (is bool) {
			if e != nil {
				logPrint(level, func() string { return "CHECK: " + e.Error() })
				is = true
			}
			return
		},
	}
}

func joinStrings(sep string, a ...interface{}) (o string) {
	for i := range a {
		o += fmt.Sprint(a[i])
		if i < len(a)-1 {
			o += sep
		}
	}
	return
}

// logPrint is the generic log printing function that composes the timestamp,
// level tag, text and code location.
func logPrint(level Level, closure func() string) {
	writerMx.Lock()
	defer writerMx.Unlock()
	if level > logLevel {
		return
	}
	fmt.Fprintf(writer, "%s %s %s %s\n",
		time.Now().Format(time.StampMilli),
		LvlStrShort[level],
		closure(),
		GetLoc(3),
	)
}
