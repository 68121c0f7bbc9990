// Package logx is CAPFS's leveled-logging shim. It mirrors the call shape of
// the teacher's fs.Debugf/fs.Infof/fs.Errorf (first argument identifies what
// the message is about, e.g. a file or a worker; rest is a format string and
// args) but backs it with github.com/sirupsen/logrus instead of a hand-rolled
// logger, per SPEC_FULL.md's ambient-stack rule.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	log = logrus.New()
)

func init() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
}

// Level names accepted by Configure, matching Config.LogLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelError = "error"
)

// Configure points the logger at dst and sets its verbosity. Daemons call
// this once at startup from the parsed Config.
func Configure(dst io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	if dst == nil {
		dst = os.Stderr
	}
	log.SetOutput(dst)
	switch level {
	case LevelDebug:
		log.SetLevel(logrus.DebugLevel)
	case LevelError:
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

func tagField(tag interface{}) logrus.Fields {
	if tag == nil {
		return logrus.Fields{}
	}
	return logrus.Fields{"in": fmt.Sprintf("%v", tag)}
}

// Debugf logs a debug-level message about tag.
func Debugf(tag interface{}, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithFields(tagField(tag)).Debugf(format, args...)
}

// Infof logs an info-level message about tag.
func Infof(tag interface{}, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithFields(tagField(tag)).Infof(format, args...)
}

// Errorf logs an error-level message about tag.
func Errorf(tag interface{}, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithFields(tagField(tag)).Errorf(format, args...)
}
