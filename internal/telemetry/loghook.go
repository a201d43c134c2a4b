package telemetry

import (
	"context"
	"fmt"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/szibis/telemetry-shipper/internal/logging"
)

// NewLogHook returns a logging.LogHook that re-emits internal log entries
// through the OTel log SDK. It returns nil when telemetry is disabled.
func (t *Telemetry) NewLogHook() logging.LogHook {
	if t == nil || t.logger == nil {
		return nil
	}
	logger := t.logger

	return func(level logging.Level, msg string, attrs map[string]interface{}) {
		var rec otellog.Record
		now := time.Now()
		rec.SetTimestamp(now)
		rec.SetObservedTimestamp(now)
		rec.SetBody(otellog.StringValue(msg))
		rec.SetSeverity(toOTELSeverity(level))
		rec.SetSeverityText(string(level))

		if len(attrs) > 0 {
			kvs := make([]otellog.KeyValue, 0, len(attrs))
			for k, v := range attrs {
				kvs = append(kvs, otellog.KeyValue{Key: k, Value: toOTELValue(v)})
			}
			rec.AddAttributes(kvs...)
		}

		logger.Emit(context.Background(), rec)
	}
}

func toOTELSeverity(level logging.Level) otellog.Severity {
	switch level {
	case logging.LevelDebug:
		return otellog.SeverityDebug
	case logging.LevelWarn:
		return otellog.SeverityWarn
	case logging.LevelError:
		return otellog.SeverityError
	case logging.LevelFatal:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}

func toOTELValue(v interface{}) otellog.Value {
	switch val := v.(type) {
	case nil:
		return otellog.StringValue("<nil>")
	case string:
		return otellog.StringValue(val)
	case int:
		return otellog.IntValue(val)
	case int32:
		return otellog.Int64Value(int64(val))
	case int64:
		return otellog.Int64Value(val)
	case float64:
		return otellog.Float64Value(val)
	case bool:
		return otellog.BoolValue(val)
	case time.Duration:
		return otellog.StringValue(val.String())
	case error:
		return otellog.StringValue(val.Error())
	case []string:
		vals := make([]otellog.Value, len(val))
		for i, s := range val {
			vals[i] = otellog.StringValue(s)
		}
		return otellog.SliceValue(vals...)
	default:
		return otellog.StringValue(fmt.Sprint(val))
	}
}
