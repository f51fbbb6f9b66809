package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/config"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/logging"
	"github.com/IanTerzo/Squads/internal/reauth"
)

const (
	errMessageCreateLogger      = "create logger"
	errMessageCreateCookieStore = "create cookie store"
	errMessageCreateService     = "create reauthorization service"
	errMessageWriteOutput       = "write authorization code"
)

// Authorizer runs the silent reauthorization.
type Authorizer interface {
	Authorize(ctx context.Context) (authorize.AuthorizationCode, error)
}

type ReauthDependencies struct {
	BuildLogger     func(level string) (*zap.Logger, error)
	BuildAuthorizer func(configuration config.Config, cookieStore cookiestore.Store, logger *zap.Logger) (Authorizer, error)
	Stdout          io.Writer
}

type ReauthApplication struct {
	dependencies ReauthDependencies
}

func NewReauthApplication() ReauthApplication {
	return NewReauthApplicationWithDependencies(newDefaultReauthDependencies())
}

func NewReauthApplicationWithDependencies(dependencies ReauthDependencies) ReauthApplication {
	defaultDependencies := newDefaultReauthDependencies()

	if dependencies.BuildLogger == nil {
		dependencies.BuildLogger = defaultDependencies.BuildLogger
	}
	if dependencies.BuildAuthorizer == nil {
		dependencies.BuildAuthorizer = defaultDependencies.BuildAuthorizer
	}
	if dependencies.Stdout == nil {
		dependencies.Stdout = defaultDependencies.Stdout
	}

	return ReauthApplication{dependencies: dependencies}
}

func (application ReauthApplication) Run(executionContext context.Context, configuration config.Config) error {
	logger, err := application.dependencies.BuildLogger(configuration.LogLevel)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateLogger, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cookieStore, err := configuration.NewCookieStore()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateCookieStore, err)
	}
	authorizer, err := application.dependencies.BuildAuthorizer(configuration, cookieStore, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateService, err)
	}
	authorizationCode, err := authorizer.Authorize(executionContext)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(application.dependencies.Stdout)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(authorizationCode); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteOutput, err)
	}
	return nil
}

func newDefaultReauthDependencies() ReauthDependencies {
	return ReauthDependencies{
		BuildLogger: logging.New,
		BuildAuthorizer: func(configuration config.Config, cookieStore cookiestore.Store, logger *zap.Logger) (Authorizer, error) {
			return reauth.NewService(configuration.ReauthConfig(cookieStore, logger))
		},
		Stdout: os.Stdout,
	}
}
