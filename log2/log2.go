// Package log2 is a thin leveled wrapper around stdlib log.
// All methods are safe on a nil receiver so subsystems may run with
// logging disabled, and the level is changed atomically so debug
// output can be flipped while the node loop is running.
package log2

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"testing"
)

const (
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
)

type Func func(format string, args ...interface{})

type Log struct {
	l      *log.Logger
	w      io.Writer
	level  Level
	fatalf Func
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == nil {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		w:     w,
		level: level,
	}
}

type funcWriter struct{ f Func }

func (fw funcWriter) Write(b []byte) (int, error) {
	fw.f(string(b))
	return len(b), nil
}

func NewFunc(f Func, level Level) *Log { return NewWriter(funcWriter{f: f}, level) }

// NewTest routes output through t.Logf and Fatalf through t.Fatalf
// so parallel tests keep log lines attached to the right test.
func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	return l
}

// Clone returns a new logger on the same writer with an independent level.
func (lg *Log) Clone(level Level) *Log {
	if lg == nil {
		return nil
	}
	n := NewWriter(lg.w, level)
	n.l.SetFlags(lg.l.Flags())
	n.fatalf = lg.fatalf
	return n
}

func (lg *Log) SetLevel(level Level) {
	if lg == nil {
		return
	}
	atomic.StoreInt32((*int32)(&lg.level), int32(level))
}

func (lg *Log) SetFlags(f int) {
	if lg == nil {
		return
	}
	lg.l.SetFlags(f)
}

func (lg *Log) Enabled(level Level) bool {
	if lg == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&lg.level)) >= int32(level)
}

func (lg *Log) Logf(level Level, format string, args ...interface{}) {
	if lg.Enabled(level) {
		_ = lg.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (lg *Log) Error(args ...interface{}) { lg.Logf(LError, "error: "+fmt.Sprint(args...)) }
func (lg *Log) Errorf(format string, args ...interface{}) {
	lg.Logf(LError, "error: "+format, args...)
}
func (lg *Log) Info(args ...interface{}) { lg.Logf(LInfo, fmt.Sprint(args...)) }
func (lg *Log) Infof(format string, args ...interface{}) {
	lg.Logf(LInfo, format, args...)
}
func (lg *Log) Debug(args ...interface{}) { lg.Logf(LDebug, "debug: "+fmt.Sprint(args...)) }
func (lg *Log) Debugf(format string, args ...interface{}) {
	lg.Logf(LDebug, "debug: "+format, args...)
}

func (lg *Log) Fatalf(format string, args ...interface{}) {
	if lg != nil && lg.fatalf != nil {
		lg.fatalf(format, args...)
		return
	}
	lg.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}

func (lg *Log) Fatal(args ...interface{}) { lg.Fatalf(fmt.Sprint(args...)) }
