package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// gormWriter adapts zerolog to gorm's logger.Writer.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Gorm returns a gorm logger that reports slow queries and errors through log.
func Gorm(log zerolog.Logger) gormlogger.Interface {
	return gormlogger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
