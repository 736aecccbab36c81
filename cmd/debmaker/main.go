// Command debmaker builds Debian and Synology packages from declarative
// definitions, and indexes folders of packages into static APT repositories.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/etnz/debmaker/internal/logger"
	"github.com/etnz/debmaker/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctx = logger.WithName(ctx, "debmaker")
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatalf(ctx, "%v", err)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "debmaker",
		Short: "Build Debian packages and APT repositories",
		Long: `debmaker builds .deb packages (and optionally their .changes files and
Synology .spk variants) from a YAML or JSON definition, and turns a folder of
packages into a static APT repository.`,
		Example: `  debmaker deb -f package.yaml --define version=1.2.0
  debmaker index --source build --target repo --codename stable --arch amd64`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			logger.SetLevel(level)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newBuildCmd(), newDebCmd(), newSpkCmd(), newIndexCmd())
	version.AttachCobraVersionCommand(cmd)
	return cmd
}

// printEvent writes one event per line, as JSON.
func printEvent(w io.Writer) func(fmt.Stringer) {
	return func(e fmt.Stringer) {
		fmt.Fprintln(w, e.String())
	}
}
