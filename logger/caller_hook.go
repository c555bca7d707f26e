package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// ownPackage is this package's import path, resolved from a frame at init.
var ownPackage = func() string {
	pc, _, _, _ := runtime.Caller(0)
	fn := runtime.FuncForPC(pc).Name()
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot >= 0 {
		return fn[:slash+1+dot]
	}
	return fn
}()

// callerHook rewrites entry.Caller to the first frame outside logrus and
// this package, so wrapped calls report the code that logged.
type callerHook struct{}

func (callerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !internalFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func internalFrame(fn string) bool {
	if strings.Contains(fn, "sirupsen/logrus") {
		return true
	}
	return strings.HasPrefix(fn, ownPackage+".")
}
