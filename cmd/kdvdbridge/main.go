// Command kdvdbridge runs the 8KDVD player message bridge. It connects a
// page-side bridge to a host router over WebSocket, runs the host router
// itself, and lets you dispatch actions and push commands from the shell.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalVerbose    bool
	globalLogger     *slog.Logger
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "kdvdbridge",
	Short: "Message bridge between 8KDVD menus and the native player",
	Long: `kdvdbridge carries UI actions from 8KDVD disc menus to the native
player host and delivers host commands back to the page. It runs either
side of the bridge: 'run' for the page side, 'host' for the host router.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config file (default: $XDG_CONFIG_HOME/kdvdbridge/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(qrCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the build and protocol versions.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kdvdbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s (protocol %s)\n", version, protocolVersion())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
