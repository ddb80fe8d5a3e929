package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	MessageCommandExecuted = "Inventory command executed"
	MessageCommandFailed   = "Inventory command failed"
	MessageBatchRolledBack = "Inventory command batch rolled back"
	MessageRollupStarted   = "ROLLUP_STARTED"
	MessageRollupEnded     = "ROLLUP_ENDED"
	MessageRollupFailed    = "ROLLUP_FAILED"
	MessageRollupContended = "ROLLUP_CONTENTION"
)

// Logger writes audit lines through zap. It never panics into the caller.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("inventory.audit")}
}

func (l *Logger) Debug(message string, lc domain.LogContext) {
	l.write(zapcore.DebugLevel, message, lc, nil)
}

func (l *Logger) Info(message string, lc domain.LogContext) {
	l.write(zapcore.InfoLevel, message, lc, nil)
}

func (l *Logger) Warn(message string, lc domain.LogContext, err error) {
	l.write(zapcore.WarnLevel, message, lc, err)
}

func (l *Logger) Error(message string, lc domain.LogContext, err error) {
	l.write(zapcore.ErrorLevel, message, lc, err)
}

func (l *Logger) write(level zapcore.Level, message string, lc domain.LogContext, err error) {
	if l == nil || l.log == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	ce := l.log.Check(level, Format(message, lc))
	if ce == nil {
		return
	}
	fields := Fields(lc)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// Fields exposes the context as structured zap fields.
func Fields(lc domain.LogContext) []zap.Field {
	fields := make([]zap.Field, 0, 8+len(lc.Attributes))
	if lc.Key.SkuCode != "" {
		fields = append(fields, zap.String("sku", lc.Key.SkuCode), zap.Int64("warehouse", lc.Key.WarehouseID))
	}
	if lc.CommandName != "" {
		fields = append(fields, zap.String("command", lc.CommandName))
	}
	fields = append(fields, zap.Int("qty", lc.Quantity))
	if lc.OrderNumber != "" {
		fields = append(fields, zap.String("order", lc.OrderNumber))
	}
	if lc.Originator != "" {
		fields = append(fields, zap.String("originator", lc.Originator))
	}
	if lc.Reason != "" {
		fields = append(fields, zap.String("reason", lc.Reason))
	}
	if lc.Comment != "" {
		fields = append(fields, zap.String("comment", lc.Comment))
	}
	for _, name := range sortedAttributeNames(lc.Attributes) {
		fields = append(fields, zap.Any(name, lc.Attributes[name]))
	}
	return fields
}
