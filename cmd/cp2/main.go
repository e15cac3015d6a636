// Command cp2 is the command-line front end for the extended-archive
// engine, grounded on rclone's own cmd package: one cobra.Command root,
// one subcommand per operation, persistent flags bound once at the root.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fadden/cp2/container"
	"github.com/fadden/cp2/cp2config"
	"github.com/fadden/cp2/logging"

	_ "github.com/fadden/cp2/plugins/diskfmt"
	_ "github.com/fadden/cp2/plugins/gzipfmt"
	_ "github.com/fadden/cp2/plugins/zipfmt"
)

var cfg = cp2config.Default()

func main() {
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		container.RequestCancel()
		cancel()
	}()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cp2:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cp2",
		Short: "Browse and edit files nested inside archives and disk images",
	}
	flags := root.PersistentFlags()
	flags.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")
	flags.BoolVar(&cfg.ReadOnly, "read-only", false, "never write to any host file")
	flags.BoolVar(&cfg.SkipSimpleWrapper, "skip-simple", true, "transparently descend single-entry wrapper archives")
	flags.BoolVar(&cfg.AllowDirLeaf, "allow-dir", true, "allow a path to terminate on a directory")
	flags.BoolVar(&cfg.CaseSensitiveGlobs, "case-sensitive", false, "match --include case-sensitively")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logging.SetLevel(level)
	}

	root.AddCommand(newCatalogCmd(), newExtractCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cp2 version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("cp2 (development build)")
			return nil
		},
	}
}
