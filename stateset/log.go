package stateset

import (
	"fmt"
	"log"
	"os"
)

// Logging convention for the stateset package:
// Info:
//     infrequent lifecycle events (sync connect/disconnect, auth failures)
// Debug (glog.V(1) and up):
//     per-commit and per-snapshot events. these are frequent; prefer
//     summarized statistics over logging each individual commit

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

func Logger() *log.Logger {
	return logger
}

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			Logger().Printf("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
