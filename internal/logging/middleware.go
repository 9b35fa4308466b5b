package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs each request through zap using chi's log entry hooks.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&formatter{logger: logger})
}

type formatter struct {
	logger *zap.Logger
}

func (f *formatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &entry{
		logger: f.logger.With(
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		),
	}
}

type entry struct {
	logger *zap.Logger
}

func (e *entry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.Info("request completed",
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("elapsed", elapsed),
	)
}

func (e *entry) Panic(v interface{}, stack []byte) {
	e.logger.Error("request panic",
		zap.Any("panic", v),
		zap.ByteString("stack", stack),
	)
}
