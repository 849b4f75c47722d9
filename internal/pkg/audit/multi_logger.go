package audit

import (
	"context"
	"errors"
)

// MultiLogger fans an entry out to several sinks and joins their errors.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Log(ctx context.Context, entry Entry) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
