package logging

import "strings"

// NSQLogger adapts a Logger to go-nsq's SetLogger interface. go-nsq prefixes
// each line with its level, which is mapped back onto zap levels.
type NSQLogger struct {
	l *Logger
}

func NewNSQLogger(l *Logger) NSQLogger {
	return NSQLogger{l: l}
}

func (n NSQLogger) Output(_ int, s string) error {
	e := n.l.Plain().WithField("component", "nsq")
	switch {
	case strings.HasPrefix(s, "ERR"):
		e.Error(strings.TrimSpace(strings.TrimPrefix(s, "ERR")))
	case strings.HasPrefix(s, "WRN"):
		e.Warn(strings.TrimSpace(strings.TrimPrefix(s, "WRN")))
	default:
		e.Info(strings.TrimSpace(s))
	}
	return nil
}
