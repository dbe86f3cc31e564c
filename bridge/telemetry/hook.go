package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

const loggerName = "github.com/Cogwheel-Validator/spectra-aptos-bridge"

// LogHook mirrors zerolog events into the global OpenTelemetry logger provider. Only the
// message, level and the component label travel; structured fields stay in the console log.
type LogHook struct {
	component string
	logger    otellog.Logger
}

// NewLogHook binds a hook to the current global logger provider, so it must be created after
// NewOTelSDK.
func NewLogHook(component string) *LogHook {
	return &LogHook{
		component: component,
		logger:    global.GetLoggerProvider().Logger(loggerName),
	}
}

// Run implements zerolog.Hook.
func (h *LogHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}

	ctx := e.GetCtx()
	if ctx == nil {
		ctx = context.Background()
	}

	var rec otellog.Record
	now := time.Now()
	rec.SetTimestamp(now)
	rec.SetObservedTimestamp(now)
	rec.SetSeverity(severity(level))
	rec.SetSeverityText(level.String())
	rec.SetBody(otellog.StringValue(message))
	if h.component != "" {
		rec.AddAttributes(otellog.String("component", h.component))
	}
	h.logger.Emit(ctx, rec)
}

func severity(level zerolog.Level) otellog.Severity {
	switch level {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace
	case zerolog.DebugLevel:
		return otellog.SeverityDebug
	case zerolog.InfoLevel:
		return otellog.SeverityInfo
	case zerolog.WarnLevel:
		return otellog.SeverityWarn
	case zerolog.ErrorLevel:
		return otellog.SeverityError
	case zerolog.FatalLevel:
		return otellog.SeverityFatal
	case zerolog.PanicLevel:
		return otellog.SeverityFatal4
	default:
		return otellog.SeverityUndefined
	}
}
