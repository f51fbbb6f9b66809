package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the request identifier in both directions.
	RequestIDHeader = "X-Request-ID"

	requestIDContextKey     = "request_id"
	maxRequestIDLength      = 128
	logMessageRequestServed = "request served"
	logFieldRequestID       = "request_id"
	logFieldMethod          = "method"
	logFieldPath            = "path"
	logFieldStatus          = "status"
	logFieldLatency         = "latency"
)

// requestIdentifier reuses a caller-supplied X-Request-ID or assigns a new one.
func requestIdentifier() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		requestID := ginContext.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		ginContext.Set(requestIDContextKey, requestID)
		ginContext.Header(RequestIDHeader, requestID)
		ginContext.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		startedAt := time.Now()
		ginContext.Next()
		logger.Info(logMessageRequestServed,
			zap.String(logFieldRequestID, ginContext.GetString(requestIDContextKey)),
			zap.String(logFieldMethod, ginContext.Request.Method),
			zap.String(logFieldPath, ginContext.FullPath()),
			zap.Int(logFieldStatus, ginContext.Writer.Status()),
			zap.Duration(logFieldLatency, time.Since(startedAt)),
		)
	}
}
