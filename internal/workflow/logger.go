package workflow

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapLogger adapts a zap logger to the Temporal SDK logger interface.
type ZapLogger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps l.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z *ZapLogger) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z *ZapLogger) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z *ZapLogger) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }
