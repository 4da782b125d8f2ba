// Command fairy runs the Fairy assistant: a websocket server for the phone
// app, plus one-shot commands for the terminal.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/fairy/internal/config"
	"github.com/normanking/fairy/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli holds state shared by the subcommands.
type cli struct {
	cfgPath string
	verbose bool

	cfg       *config.Config
	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "fairy",
		Short: "Fairy - a desktop and phone assistant driven by a local model",
		Long: `Fairy turns spoken or typed requests into actions on this computer
and on a paired Android phone. The model answers with action markers such as
[ACTION: OPEN_LINUX | firefox]; Fairy runs them and feeds the results back.

Start the server:      fairy serve
One-shot request:      fairy ask "what's on my screen?"
Inspect a reply:       fairy parse "[ACTION: OPEN | firefox]"
List capabilities:     fairy capabilities`,
		SilenceUsage:       true,
		PersistentPreRunE:  c.init,
		PersistentPostRunE: c.close,
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgPath, "config", "", "config file path (default ~/.fairy/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Fairy %s\n", version)
		},
	})

	rootCmd.AddCommand(c.serveCmd())
	rootCmd.AddCommand(c.askCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(capabilitiesCmd())
	rootCmd.AddCommand(c.configCmd())

	return rootCmd
}

// init loads and validates the configuration, then installs the logger.
func (c *cli) init(cmd *cobra.Command, args []string) error {
	if c.cfgPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		c.cfgPath = path
	}

	cfg, err := config.LoadFromPath(c.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", c.cfgPath, err)
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	c.cfg = cfg
	c.logCloser = closer
	return nil
}

func (c *cli) close(cmd *cobra.Command, args []string) error {
	if c.logCloser != nil {
		return c.logCloser.Close()
	}
	return nil
}
