// Package observability provides the ambient logging and resource-sampling
// stack. It never mutates supervisor state; it only observes it.
package observability

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// syslogFormatter renders lines as `<priority>component: message key=value`,
// without color. The colorized alternative is colorTextFormatter below,
// which replaces the teacher's hand-rolled ANSI color table
// (graceful_restarts/tbflip, graceful_restarts/SocketHandoff) with
// github.com/fatih/color.
type syslogFormatter struct{}

var levelPriority = map[logrus.Level]int{
	logrus.PanicLevel: 0,
	logrus.FatalLevel: 2,
	logrus.ErrorLevel: 3,
	logrus.WarnLevel:  4,
	logrus.InfoLevel:  6,
	logrus.DebugLevel: 7,
	logrus.TraceLevel: 7,
}

func (syslogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	pri := levelPriority[e.Level]
	component, _ := e.Data["component"].(string)
	line := fmt.Sprintf("<%d>%s: %s", pri, component, e.Message)
	for k, v := range e.Data {
		if k == "component" {
			continue
		}
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	return append([]byte(line), '\n'), nil
}

// componentColors assigns a stable color per component field, echoing the
// teacher's per-process ANSI palette but keyed by subsystem instead of pid.
var componentColors = map[string]*color.Color{
	"preparer":   color.New(color.FgCyan),
	"worker":     color.New(color.FgGreen),
	"timer":      color.New(color.FgYellow),
	"signal":     color.New(color.FgMagenta),
	"control":    color.New(color.FgBlue),
	"supervisor": color.New(color.FgWhite),
	"bootstrap":  color.New(color.FgHiWhite),
}

type colorTextFormatter struct {
	base *logrus.TextFormatter
}

func (f *colorTextFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if c, ok := e.Data["component"].(string); ok {
		if col, ok := componentColors[c]; ok {
			e.Data["component"] = col.Sprint(c)
		}
	}
	return f.base.Format(e)
}

// New builds the root logger. verbose raises the level to Debug; syslog
// switches to the priority-prefixed formatter instead of the colorized text
// formatter. --syslog only changes formatting; no network syslog backend
// is wired up.
func New(verbose, syslog bool) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr

	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	if syslog {
		l.SetFormatter(syslogFormatter{})
	} else {
		l.SetFormatter(&colorTextFormatter{base: &logrus.TextFormatter{
			FullTimestamp: true,
		}})
	}

	return l
}

// For creates a component-scoped entry, the unit every other package logs
// through.
func For(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}
