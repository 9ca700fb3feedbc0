package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// gormLogger routes GORM logs into the service logger.
type gormLogger struct {
	log       *logger.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

func newGormLogger(log *logger.Logger, slowQuery time.Duration) gormlogger.Interface {
	if log == nil {
		log = logger.Nop()
	}
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	return &gormLogger{
		log:       log.With(logger.Component("gorm")),
		level:     gormlogger.Warn,
		slowQuery: slowQuery,
	}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormlogger.Error &&
		!errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey):
		sql, rows := fc()
		l.log.Error("query failed",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Latency(elapsed),
			logger.Err(err),
		)
	case elapsed > l.slowQuery && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn("slow query",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Latency(elapsed),
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("query",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Latency(elapsed),
		)
	}
}
