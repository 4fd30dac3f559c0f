package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/qc-validator-api/pkg/config"
	"github.com/noah-isme/qc-validator-api/pkg/middleware/requestid"
)

const serviceName = "qc-validator-api"

// New builds the process logger. Production gets sampled JSON, everything else
// a development config, and LOG_FORMAT=console switches the encoder.
func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Encoding = "json"
	if cfg.Log.Format == "console" {
		zapCfg.Encoding = "console"
	}
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Log.Level))
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"service": serviceName, "env": cfg.Env}

	return zapCfg.Build()
}

func parseLevel(raw string) zapcore.Level {
	level := zapcore.InfoLevel
	if raw == "" {
		return level
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// AccessOption tunes AccessLog.
type AccessOption func(*accessLog)

type accessLog struct {
	skip   map[string]struct{}
	caller func(*gin.Context) string
}

// SkipPaths keeps probe and scrape routes out of the access log.
func SkipPaths(paths ...string) AccessOption {
	return func(a *accessLog) {
		for _, p := range paths {
			a.skip[p] = struct{}{}
		}
	}
}

// WithCaller adds a user_id field resolved after the handler chain ran.
func WithCaller(fn func(*gin.Context) string) AccessOption {
	return func(a *accessLog) { a.caller = fn }
}

// AccessLog writes one line per request. 5xx responses log at error level and 4xx at warn.
func AccessLog(l *zap.Logger, opts ...AccessOption) gin.HandlerFunc {
	cfg := &accessLog{skip: map[string]struct{}{}}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := cfg.skip[c.Request.URL.Path]; ok {
			return
		}

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if route := c.FullPath(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if cfg.caller != nil {
			if id := cfg.caller(c); id != "" {
				fields = append(fields, zap.String("user_id", id))
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("http_request", fields...)
		case status >= 400:
			l.Warn("http_request", fields...)
		default:
			l.Info("http_request", fields...)
		}
	}
}
