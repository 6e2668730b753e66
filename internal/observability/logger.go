package observability

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "typhoon-alert-service"

// taiwanZone is the zone log timestamps are written in so they line up with
// CWA issue times.
var taiwanZone = time.FixedZone("CST", 8*60*60)

// NewLogger builds the process logger. LOG_LEVEL sets the level;
// LOG_FORMAT=console switches to the human-readable encoder.
func NewLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = taiwanTimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     envName(),
	}
	return config.Build()
}

func taiwanTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	zapcore.ISO8601TimeEncoder(t.In(taiwanZone), enc)
}

func envName() string {
	if v := strings.TrimSpace(os.Getenv("ENV_NAME")); v != "" {
		return v
	}
	return "dev"
}

// parseLogLevel falls back to info for empty or unknown values.
func parseLogLevel(s string) zap.AtomicLevel {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level > zapcore.ErrorLevel {
		level = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(level)
}
