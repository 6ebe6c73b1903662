package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hupe1980/chatkernel/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:           "chatkernel",
		Short:         "Notebook kernel that answers cells with a language model",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: ~/.chatkernel/config.yaml)")

	root.AddCommand(serveCmd(g))
	root.AddCommand(runCmd(g))
	root.AddCommand(specsCmd(g))
	root.AddCommand(infoCmd(g))

	return root
}

// loadConfig reads the --config file, or the default path when it exists.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
