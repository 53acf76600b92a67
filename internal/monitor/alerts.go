package monitor

import "log"

// AlertSink is a pluggable alert delivery target.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("⚠️ ALERT %s", message)
	return nil
}
