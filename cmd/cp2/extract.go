package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fadden/cp2/container"
	"github.com/fadden/cp2/cp2fs"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <ext-path> <out-file>",
		Short: "Extract the file at an extended-archive path to a host file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func runExtract(ctx context.Context, path, outPath string) error {
	opt := cfg.WalkOptions()
	opt.AllowDirLeaf = false
	root, result, err := container.OpenExtArchive(ctx, path, opt)
	if err != nil {
		return err
	}
	defer root.Close(ctx)

	rc, err := openLeaf(ctx, result)
	if err != nil {
		return err
	}
	defer rc.Close()

	var w io.Writer = os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = io.Copy(w, rc)
	return err
}

// openLeaf opens the readable data the Resolver landed on: a specific
// Archive entry, a Filesystem file, or (for a simple wrapper like gzip
// consumed to the end) the whole Archive's sole entry.
func openLeaf(ctx context.Context, result container.Result) (io.ReadCloser, error) {
	if result.Filesystem != nil && result.Entry != nil {
		if result.Entry.IsDir() {
			return nil, fmt.Errorf("cp2: path names a directory, not a file")
		}
		return result.Filesystem.Open(ctx, result.Entry, cp2fs.ForkData)
	}
	arc, ok := result.Content.(cp2fs.Archive)
	if !ok {
		return nil, fmt.Errorf("cp2: path does not resolve to an extractable file")
	}
	if result.ArchiveEntryPath != "" {
		return arc.Open(ctx, result.ArchiveEntryPath, cp2fs.ForkData)
	}
	entries, err := arc.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("cp2: path names a container with %d entries, not a single file", len(entries))
	}
	return arc.Open(ctx, entries[0].Path, cp2fs.ForkData)
}
