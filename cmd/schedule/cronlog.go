package schedule

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

// NewCronLogger returns a cron.Logger writing through log. Cron's routine
// scheduling messages are logged at debug level.
func NewCronLogger(log logger.Logger) cron.Logger {
	return &cronLogger{log: log}
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, toFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(toFields(keysAndValues), logger.Error(err))
	l.log.Error(msg, fields...)
}

// toFields pairs up cron's alternating keys and values. A trailing key
// without a value is kept with a nil value.
func toFields(keysAndValues []any) []logger.Field {
	fields := make([]logger.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		var value any
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		fields = append(fields, logger.Any(key, value))
	}
	return fields
}
