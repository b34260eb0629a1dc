package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
)

// Exit codes, per the documented CLI surface.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitInvalidArgs = 2
	exitRefusal     = 3
)

var logger zfs.Logger

var rootCmd = &cobra.Command{
	Use:           "snapctl",
	Short:         "snapctl manages snapshot lifecycle and replication for a ZFS-like dataset tree",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		logger = zfs.NewStderrLogger(level)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("dataset", "d", "", "dataset to operate on")
	rootCmd.PersistentFlags().BoolP("recursive", "r", false, "operate recursively on the dataset subtree")
	rootCmd.PersistentFlags().BoolP("dry-run", "n", false, "report what would change without mutating anything")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "path to a config file (default $HOME/.snapctl.yaml)")

	_ = viper.BindPFlag("dataset", rootCmd.PersistentFlags().Lookup("dataset"))
	_ = viper.BindPFlag("recursive", rootCmd.PersistentFlags().Lookup("recursive"))
	_ = viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("SNAPCTL")
	viper.AutomaticEnv()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".snapctl")
	}

	// A missing config file is not an error - env vars and flags are enough.
	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the documented exit code taxonomy.
func exitCodeFor(err error) int {
	switch {
	case isInvalidArgs(err):
		return exitInvalidArgs
	case isRefusal(err):
		return exitRefusal
	default:
		return exitFailure
	}
}
