package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sluice",
		Short: "Multi-tenant query gateway for PostgreSQL, MySQL, and MongoDB",
		Long: `Sluice is a stateless query gateway that lets browser clients run queries
against PostgreSQL, MySQL, and MongoDB through signed, rate-limited sessions.

Students connect to shared classroom databases or their own servers; the
gateway validates every query, simulates destructive statements on shared
connections, and wipes user-created databases on a daily schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sluice.yaml)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sluice")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.sluice")
	}

	viper.AutomaticEnv()
	viper.ReadInConfig() // config file is optional
}
