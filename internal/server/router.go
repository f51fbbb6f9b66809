// Package server exposes the sign-in flows over a loopback HTTP API.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/cookiestore"
)

const (
	healthRoutePath              = "/healthz"
	authorizeRoutePath           = "/v1/authorize"
	silentAuthorizeRoutePath     = "/v1/authorize/silent"
	healthStatusKey              = "status"
	healthStatusOK               = "ok"
	interactiveFlightKey         = "interactive"
	silentFlightKey              = "silent"
	ginModeRelease               = "release"
	errorMessageInteractive      = "interactive sign-in is not configured"
	errorMessageSilentDisabled   = "silent reauthorization is not configured"
	errorMessageShuttingDown     = "server is shutting down"
	logMessageAuthorizeFailed    = "authorization failed"
	logMessageAuthorizeSucceeded = "authorization succeeded"
	logFieldFlow                 = "flow"
	logFieldShared               = "shared"
	logFieldAttempts             = "attempts"
)

// InteractiveAuthorizer runs the browser sign-in.
type InteractiveAuthorizer interface {
	Authorize(ctx context.Context) (authflow.Result, error)
}

// SilentAuthorizer runs the cookie-based reauthorization.
type SilentAuthorizer interface {
	Authorize(ctx context.Context) (authorize.AuthorizationCode, error)
}

// AuthorizationPayload is the response body of the authorize routes.
type AuthorizationPayload struct {
	AuthorizationCodes authorize.AuthorizationCode `json:"authorization_codes"`
	Cookies            []cookiestore.Cookie        `json:"cookies"`
	Success            bool                        `json:"success"`
	Error              string                      `json:"error,omitempty"`
}

// RouterConfig configures the HTTP routing for authorization requests.
// Cancelling BaseContext stops the running flows; the server cancels it when shutting down.
type RouterConfig struct {
	BaseContext context.Context
	Interactive InteractiveAuthorizer
	Silent      SilentAuthorizer
	Logger      *zap.Logger
}

// NewRouter constructs a Gin engine with the health and authorization handlers.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseContext := configuration.BaseContext
	if baseContext == nil {
		baseContext = context.Background()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestIdentifier(), requestLogger(logger))

	handler := &authorizationHandler{
		baseContext: baseContext,
		interactive: configuration.Interactive,
		silent:      configuration.Silent,
		logger:      logger,
	}

	engine.GET(healthRoutePath, handler.healthStatus)
	engine.POST(authorizeRoutePath, handler.authorizeInteractive)
	engine.POST(silentAuthorizeRoutePath, handler.authorizeSilent)

	return engine, nil
}

type authorizationHandler struct {
	baseContext context.Context
	interactive InteractiveAuthorizer
	silent      SilentAuthorizer
	flightGroup singleflight.Group
	logger      *zap.Logger
}

func (handler *authorizationHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

func (handler *authorizationHandler) authorizeInteractive(ginContext *gin.Context) {
	if handler.interactive == nil {
		ginContext.JSON(http.StatusNotImplemented, failurePayload(errorMessageInteractive))
		return
	}
	handler.serveFlight(ginContext, interactiveFlightKey, func(ctx context.Context) (AuthorizationPayload, error) {
		result, err := handler.interactive.Authorize(ctx)
		if err != nil {
			return AuthorizationPayload{}, err
		}
		handler.logger.Debug(logMessageAuthorizeSucceeded, zap.String(logFieldFlow, interactiveFlightKey), zap.Int(logFieldAttempts, result.Attempts))
		return AuthorizationPayload{AuthorizationCodes: result.AuthorizationCode, Cookies: result.Cookies, Success: true}, nil
	})
}

func (handler *authorizationHandler) authorizeSilent(ginContext *gin.Context) {
	if handler.silent == nil {
		ginContext.JSON(http.StatusNotImplemented, failurePayload(errorMessageSilentDisabled))
		return
	}
	handler.serveFlight(ginContext, silentFlightKey, func(ctx context.Context) (AuthorizationPayload, error) {
		authorizationCode, err := handler.silent.Authorize(ctx)
		if err != nil {
			return AuthorizationPayload{}, err
		}
		return AuthorizationPayload{AuthorizationCodes: authorizationCode, Success: true}, nil
	})
}

// serveFlight runs the flow once for all concurrent callers of the same route.
// The flow outlives a caller that disconnects so the other callers still get the result,
// but it ends when the base context is cancelled.
func (handler *authorizationHandler) serveFlight(ginContext *gin.Context, flightKey string, run func(ctx context.Context) (AuthorizationPayload, error)) {
	requestContext := ginContext.Request.Context()
	resultChannel := handler.flightGroup.DoChan(flightKey, func() (interface{}, error) {
		flightContext, cancel := context.WithCancel(context.WithoutCancel(requestContext))
		defer cancel()
		stop := context.AfterFunc(handler.baseContext, cancel)
		defer stop()
		return run(flightContext)
	})

	select {
	case <-requestContext.Done():
		ginContext.AbortWithStatus(http.StatusRequestTimeout)
	case result := <-resultChannel:
		if result.Err != nil {
			handler.logger.Warn(logMessageAuthorizeFailed,
				zap.String(logFieldFlow, flightKey),
				zap.Bool(logFieldShared, result.Shared),
				zap.String(logFieldRequestID, ginContext.GetString(requestIDContextKey)),
				zap.Error(result.Err),
			)
			if handler.baseContext.Err() != nil {
				ginContext.JSON(http.StatusServiceUnavailable, failurePayload(errorMessageShuttingDown))
				return
			}
			ginContext.JSON(http.StatusBadGateway, failurePayload(result.Err.Error()))
			return
		}
		payload, _ := result.Val.(AuthorizationPayload)
		if payload.Cookies == nil {
			payload.Cookies = []cookiestore.Cookie{}
		}
		ginContext.JSON(http.StatusOK, payload)
	}
}

func failurePayload(message string) AuthorizationPayload {
	return AuthorizationPayload{Cookies: []cookiestore.Cookie{}, Success: false, Error: message}
}
