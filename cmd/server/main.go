// Command server exposes interactive and silent sign-in on a loopback HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/config"
	"github.com/IanTerzo/Squads/internal/logging"
	"github.com/IanTerzo/Squads/internal/reauth"
	"github.com/IanTerzo/Squads/internal/server"
)

const (
	commandUse                  = "server"
	commandShortDescription     = "Serve the sign-in flows over HTTP"
	errMessageLoggerCreate      = "create logger"
	errMessageCookieStoreCreate = "create cookie store"
	errMessageSignInCreate      = "create sign-in service"
	errMessageReauthCreate      = "create reauthorization service"
	errMessageListenAndServe    = "listen and serve"
	errMessageShutdown          = "shutdown server"
	logMessageStartingServer    = "starting HTTP server"
	logMessageShuttingDown      = "shutting down HTTP server"
	logMessageServerStopped     = "server stopped"
	logMessageListenError       = "server listen failure"
	logFieldAddress             = "address"
)

func main() {
	applicationContext, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cobra.CheckErr(newServerCommand(viper.New()).ExecuteContext(applicationContext))
}

func newServerCommand(settings *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			configuration, err := config.Load(settings)
			if err != nil {
				return err
			}
			return runServer(command.Context(), configuration)
		},
	}

	keys := append(append([]string{}, config.CommonKeys...), config.BrowserKeys...)
	keys = append(append(keys, config.ReauthKeys...), config.ServerKeys...)
	cobra.CheckErr(config.RegisterFlags(command.Flags(), settings, keys...))
	config.ConfigureEnvironment(settings)

	return command
}

func newRouter(baseContext context.Context, configuration config.Config, logger *zap.Logger) (http.Handler, error) {
	cookieStore, err := configuration.NewCookieStore()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCookieStoreCreate, err)
	}
	signIn, err := authflow.NewService(configuration.AuthflowConfig(cookieStore, logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageSignInCreate, err)
	}
	routerConfig := server.RouterConfig{BaseContext: baseContext, Interactive: signIn, Logger: logger}
	if cookieStore != nil || configuration.PersistentToken != "" {
		silent, err := reauth.NewService(configuration.ReauthConfig(cookieStore, logger))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errMessageReauthCreate, err)
		}
		routerConfig.Silent = silent
	}
	return server.NewRouter(routerConfig)
}

func runServer(ctx context.Context, configuration config.Config) error {
	logger, err := logging.New(configuration.LogLevel)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	flowContext, cancelFlows := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlows()

	router, err := newRouter(flowContext, configuration, logger)
	if err != nil {
		return err
	}

	address := configuration.Address()
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))
	httpServer := &http.Server{Addr: address, Handler: router}
	// Shutdown does not cancel in-flight requests; a pending browser sign-in would hold it until the timeout.
	httpServer.RegisterOnShutdown(cancelFlows)

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(logMessageListenError, zap.Error(err))
			return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
		}
	case <-ctx.Done():
		logger.Info(logMessageShuttingDown)
		shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), configuration.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownContext); err != nil {
			return fmt.Errorf("%s: %w", errMessageShutdown, err)
		}
	}

	logger.Info(logMessageServerStopped)
	return nil
}
