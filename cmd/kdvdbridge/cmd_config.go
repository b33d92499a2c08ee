package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the effective kdvdbridge configuration as TOML, with defaults
applied.

  kdvdbridge config         Print the effective config
  kdvdbridge config path    Print the config file path`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configPathCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfgPath := resolvedConfigPath()
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	if info, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(os.Stderr, "# %s  %s\n", info.Mode().Perm(), cfgPath)
	} else {
		fmt.Fprintf(os.Stderr, "# %s does not exist; showing defaults\n", cfgPath)
	}

	data, err := config.MarshalTOML(cfg)
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Println(resolvedConfigPath())
	return nil
}
