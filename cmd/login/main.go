// Command login opens a Microsoft sign-in window for Teams and prints the
// resulting authorization code with its PKCE verifier as JSON on stdout.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/IanTerzo/Squads/internal/config"
)

const (
	commandUse              = "login"
	commandShortDescription = "Sign in through a browser window and print the authorization code"
)

func main() {
	applicationContext, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cobra.CheckErr(newLoginCommand(viper.New(), NewLoginApplication()).ExecuteContext(applicationContext))
}

func newLoginCommand(settings *viper.Viper, application LoginApplication) *cobra.Command {
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
			return application.Run(command.Context(), configuration)
		},
	}

	keys := append(append([]string{}, config.CommonKeys...), config.BrowserKeys...)
	cobra.CheckErr(config.RegisterFlags(command.Flags(), settings, keys...))
	config.ConfigureEnvironment(settings)

	return command
}
