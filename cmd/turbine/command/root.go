package command

// root.go defines the turbine root command. Running it without a subcommand
// starts the server; flags override the config file and the environment.

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"turbine/internal/config"
)

// flags holds the values bound to the persistent flags of one command tree.
type flags struct {
	configFile   string
	port         int
	handler      string
	documentRoot string
}

// NewRootCommand builds a fresh command tree, so tests never share flag state.
func NewRootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "turbine",
		Short: "turbine - a small multi-threaded TCP server",
		Long: `turbine accepts TCP connections on a single port and hands each one to a
connection handler running on a bounded worker pool. The default handler
answers one HTTP/1.1 request per connection with a file from the document
root; the drain handler reads and discards the byte stream.

Use "turbine config" to print the effective configuration.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, cfg, newLogger(cfg, cmd.OutOrStdout()))
		},
	}

	// Global persistent flags = available to all subcommands
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config-file", "", fmt.Sprintf("TOML config file (default %q if present)", config.DefaultConfigFile))
	pf.IntVar(&f.port, "port", 0, "TCP port to listen on (overrides TCP_PORT)")
	pf.StringVar(&f.handler, "handler", "", "connection handler: static or drain (overrides HANDLER)")
	pf.StringVar(&f.documentRoot, "document-root", "", "directory served by the static handler (overrides DOCUMENT_ROOT)")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newConfigCommand(f))
	rootCmd.AddCommand(newProbeCommand())
	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err) // Print error to standard error
		return 1
	}
	return 0
}

// loadConfig applies the flags the user actually set on top of the loaded
// configuration, then validates the result.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.TCPPort = f.port
	}
	if changed("handler") {
		cfg.Handler = f.handler
	}
	if changed("document-root") {
		cfg.DocumentRoot = f.documentRoot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
