// Package logging wires structured logging into the collector's hook
// chain: a logrus logger with an output splitter routing error-level
// records to stderr, wrapped in a collector.HookExtension so every hook
// call (Invoke included) is logged without the engine itself depending
// on logrus.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/noworkflow/provenance/collector"
)

// OutputSplitter routes logrus's error-level-and-above output (text or
// JSON format) to stderr and everything else to stdout.
type OutputSplitter struct{}

var stderrLevelMarkers = [][]byte{
	[]byte("level=error"), []byte("level=fatal"), []byte("level=panic"),
	[]byte(`"level":"error"`), []byte(`"level":"fatal"`), []byte(`"level":"panic"`),
}

func (OutputSplitter) Write(p []byte) (int, error) {
	for _, marker := range stderrLevelMarkers {
		if bytes.Contains(p, marker) {
			return os.Stderr.Write(p)
		}
	}
	return os.Stdout.Write(p)
}

// New builds a logrus.Logger pre-configured with OutputSplitter and the
// given format ("json" or "text").
func New(level logrus.Level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(OutputSplitter{})
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// HookExtension logs every hook call's entry, exit, and timing (Invoke
// included) through logrus rather than a bare fmt.Printf.
type HookExtension struct {
	collector.BaseHookExtension
	logger *logrus.Logger
}

// NewHookExtension wraps logger as a collector.HookExtension, ordered
// first so its timing brackets every other registered extension.
func NewHookExtension(logger *logrus.Logger) *HookExtension {
	return &HookExtension{
		BaseHookExtension: collector.NewBaseHookExtension("logging", 0),
		logger:            logger,
	}
}

func (e *HookExtension) Wrap(op collector.HookOperation, next func()) {
	start := time.Now()
	entry := e.logger.WithFields(logrus.Fields{"hook": op.Hook, "activation": op.ActivationName})
	entry.Debug("hook starting")

	defer func() {
		fields := entry.WithField("duration", time.Since(start))
		if r := recover(); r != nil {
			fields.WithField("panic", r).Error("hook panicked")
			panic(r)
		}
		fields.Debug("hook completed")
	}()

	next()
}
