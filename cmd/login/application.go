package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/config"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/logging"
)

const (
	errMessageCreateLogger      = "create logger"
	errMessageCreateCookieStore = "create cookie store"
	errMessageCreateService     = "create sign-in service"
	errMessageWriteOutput       = "write authorization code"
)

// LoginOutput is the object printed on stdout. Cookies appear only when they were captured.
type LoginOutput struct {
	Code         string               `json:"code"`
	CodeVerifier string               `json:"code_verifier"`
	Cookies      []cookiestore.Cookie `json:"cookies,omitempty"`
}

// Authorizer runs the interactive sign-in.
type Authorizer interface {
	Authorize(ctx context.Context) (authflow.Result, error)
}

type LoginDependencies struct {
	BuildLogger     func(level string) (*zap.Logger, error)
	BuildAuthorizer func(configuration config.Config, cookieStore cookiestore.Store, logger *zap.Logger) (Authorizer, error)
	Stdout          io.Writer
}

type LoginApplication struct {
	dependencies LoginDependencies
}

func NewLoginApplication() LoginApplication {
	return NewLoginApplicationWithDependencies(newDefaultLoginDependencies())
}

func NewLoginApplicationWithDependencies(dependencies LoginDependencies) LoginApplication {
	defaultDependencies := newDefaultLoginDependencies()

	if dependencies.BuildLogger == nil {
		dependencies.BuildLogger = defaultDependencies.BuildLogger
	}
	if dependencies.BuildAuthorizer == nil {
		dependencies.BuildAuthorizer = defaultDependencies.BuildAuthorizer
	}
	if dependencies.Stdout == nil {
		dependencies.Stdout = defaultDependencies.Stdout
	}

	return LoginApplication{dependencies: dependencies}
}

func (application LoginApplication) Run(executionContext context.Context, configuration config.Config) error {
	logger, err := application.dependencies.BuildLogger(configuration.LogLevel)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateLogger, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var cookieStore cookiestore.Store
	if configuration.CaptureCookies {
		cookieStore, err = configuration.NewCookieStore()
		if err != nil {
			return fmt.Errorf("%s: %w", errMessageCreateCookieStore, err)
		}
	}

	authorizer, err := application.dependencies.BuildAuthorizer(configuration, cookieStore, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateService, err)
	}
	result, err := authorizer.Authorize(executionContext)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(application.dependencies.Stdout)
	encoder.SetEscapeHTML(false)
	output := LoginOutput{
		Code:         result.AuthorizationCode.Code,
		CodeVerifier: result.AuthorizationCode.CodeVerifier,
		Cookies:      result.Cookies,
	}
	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteOutput, err)
	}
	return nil
}

func newDefaultLoginDependencies() LoginDependencies {
	return LoginDependencies{
		BuildLogger: logging.New,
		BuildAuthorizer: func(configuration config.Config, cookieStore cookiestore.Store, logger *zap.Logger) (Authorizer, error) {
			return authflow.NewService(configuration.AuthflowConfig(cookieStore, logger))
		},
		Stdout: os.Stdout,
	}
}
