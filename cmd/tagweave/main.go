package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hurricanerix/tagweave/internal/config"
)

// options holds the flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	logLevel   string

	// portOverride replaces the configured port when non-zero
	portOverride int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "tagweave",
		Short:         "Turn chat context into Stable Diffusion prompts and ComfyUI images",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newSanitizeCmd(),
		newFillCmd(opts),
		newWorkflowsCmd(opts),
		newPingCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file and environment, then applies flag
// overrides and validates the result.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	if o.portOverride != 0 {
		cfg.Server.Port = o.portOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tagweave %s\n", config.Version)
		},
	}
}
