package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OCAP2/platoon/internal/config"
	"github.com/OCAP2/platoon/internal/scenario"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Cooperative platooning simulation",
	Long: `platoon_sim runs scripted platooning scenarios on a kinematic stand-in
simulator and records every tick to the configured storage backend.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:       "run <scenario>",
	Short:     "Run a bundled scenario",
	Args:      cobra.ExactArgs(1),
	ValidArgs: scenario.Names(),
	RunE:      runScenario,
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the bundled scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range scenario.Names() {
			sc, _ := scenario.Get(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, sc.Description)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config-dir", ".", "directory containing "+config.FileName)
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("configDir", rootCmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))

	runCmd.Flags().Int("ticks", 0, "ticks to run (default from the scenario or sim.ticks)")
	runCmd.Flags().String("storage", "", "storage backend (memory, sqlite, postgres, websocket)")
	runCmd.Flags().Bool("upload", false, "upload the export to api.serverUrl when done")
	runCmd.Flags().String("name", "", "session name (default <scenario>)")
	_ = viper.BindPFlag("storage.type", runCmd.Flags().Lookup("storage"))
	_ = viper.BindPFlag("api.upload", runCmd.Flags().Lookup("upload"))

	rootCmd.AddCommand(runCmd, scenariosCmd, versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("PLATOON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// a missing file leaves the defaults in place
	if err := config.Load(viper.GetString("configDir")); err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		fmt.Fprintln(os.Stderr, "config:", err)
	}
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := scenario.Get(args[0])
	if err != nil {
		return err
	}
	ticks, _ := cmd.Flags().GetInt("ticks")
	name, _ := cmd.Flags().GetString("name")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(appOptions{
		Scenario:    sc,
		SessionName: name,
		Ticks:       ticks,
		ConfigDir:   viper.GetString("configDir"),
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
