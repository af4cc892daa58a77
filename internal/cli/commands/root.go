// Package commands implements the composer CLI.
package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/cli/config"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/logging"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	dev        bool
	noColor    bool
}

// NewRootCommand creates the root command. Hydrators are the functions
// manifests may name in their hydrate list.
func NewRootCommand(hydrators *hydrate.Registry) *cobra.Command {
	if hydrators == nil {
		hydrators = hydrate.NewRegistry()
	}
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "composer",
		Short: "Server-side component composition for page rendering",
		Long: color.CyanString(`composer - component composition pipeline

Discovers component manifests, resolves A/B variants per slot, renders
nested components with hydrated context and serves cached fragments.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default: composer.yml found upwards)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	pf.BoolVar(&flags.dev, "dev", false, "development mode: console logs, file watching, live reload")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCommand(flags, hydrators),
		newCheckCommand(flags, hydrators),
		newKeyCommand(flags, hydrators),
		newScaffoldCommand(flags),
		newVersionCommand(),
	)
	return root
}

// load reads the config and builds the logger the flags ask for.
func (f *globalFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.dev {
		cfg.Dev.Watch = true
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: f.dev})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			title := color.New(color.FgCyan, color.Bold)
			w := cmd.OutOrStdout()
			for _, kv := range [][2]string{
				{"composer version", Version},
				{"git commit", GitCommit},
				{"build date", BuildDate},
				{"go version", runtime.Version()},
			} {
				title.Fprintf(w, "%s: ", kv[0])
				fmt.Fprintln(w, kv[1])
			}
		},
	}
}

// Execute runs the CLI and prints a returned error.
func Execute(hydrators *hydrate.Registry) error {
	root := NewRootCommand(hydrators)
	if err := root.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
