// Command reauth trades the stored persistent sign-in cookie for a fresh
// authorization code without opening a browser.
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
	commandUse              = "reauth"
	commandShortDescription = "Reauthorize silently with the stored ESTSAUTHPERSISTENT cookie"
)

func main() {
	applicationContext, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cobra.CheckErr(newReauthCommand(viper.New(), NewReauthApplication()).ExecuteContext(applicationContext))
}

func newReauthCommand(settings *viper.Viper, application ReauthApplication) *cobra.Command {
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

	keys := append(append([]string{}, config.CommonKeys...), config.ReauthKeys...)
	cobra.CheckErr(config.RegisterFlags(command.Flags(), settings, keys...))
	config.ConfigureEnvironment(settings)

	return command
}
