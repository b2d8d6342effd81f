package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/fleet/pkg/client"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet - rolling maintenance for database universes",
	Long: `Fleet is a control plane that runs maintenance on database universes
(resizes, flag changes, software upgrades) as resumable tasks, restarting
one node at a time so the universe keeps its quorum.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      log.Level(viper.GetString("log-level")),
			JSONOutput: viper.GetBool("log-json"),
			Output:     os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Log as JSON")
	flags.String("server", "127.0.0.1:8080", "Fleet API server address")
	bindFlags(rootCmd, true, "config", "log-level", "log-json", "server")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fleet version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig layers the optional config file and FLEET_* environment
// variables under the command-line flags
func loadConfig() error {
	viper.SetEnvPrefix("fleet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	file := viper.GetString("config")
	if file == "" {
		return nil
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", file, err)
	}
	return nil
}

// bindFlags makes the named flags readable through viper, so each can also
// come from the config file or a FLEET_* variable
func bindFlags(cmd *cobra.Command, persistent bool, names ...string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// newClient connects to the server named by --server
func newClient() (*client.Client, error) {
	return client.NewClient(viper.GetString("server"))
}
