package mqtt

import (
	"fmt"
	"strings"

	paholog "github.com/eclipse/paho.golang/paho/log"

	"github.com/autopeer-io/vacuumsim/pkg/log"
)

// pahoLogger adapts the project logger to paho's Println/Printf tracing hooks.
type pahoLogger struct {
	l log.Logger
}

var _ paholog.Logger = pahoLogger{}

func newPahoLogger(l log.Logger) pahoLogger {
	return pahoLogger{l: l}
}

func (p pahoLogger) Println(v ...any) {
	p.l.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p pahoLogger) Printf(format string, v ...any) {
	p.l.Debug(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}
