package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fadden/cp2/container"
	"github.com/fadden/cp2/cp2fs"
	"github.com/fadden/cp2/glob"
)

func newCatalogCmd() *cobra.Command {
	var include []string
	cmd := &cobra.Command{
		Use:     "catalog <ext-path>",
		Aliases: []string{"list", "ls"},
		Short:   "List the entries reachable at an extended-archive path",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(cmd.Context(), args[0], include)
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to include (default: all)")
	return cmd
}

func runCatalog(ctx context.Context, path string, include []string) error {
	opt := cfg.WalkOptions()
	opt.AllowDirLeaf = true
	root, result, err := container.OpenExtArchive(ctx, path, opt)
	if err != nil {
		return err
	}
	defer root.Close(ctx)

	matcher, err := glob.New(include, cfg.CaseSensitiveGlobs)
	if err != nil {
		return err
	}

	if result.Filesystem != nil && result.Entry != nil && result.Entry.IsDir() {
		return listDir(ctx, result.Filesystem, result.Entry, matcher)
	}

	switch c := result.Content.(type) {
	case cp2fs.Archive:
		entries, err := c.Entries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if matcher.Match(e.Path) {
				printEntry(e)
			}
		}
	case cp2fs.DiskImage:
		fmt.Printf("disk image: %d bytes, notes=%v\n", c.Chunks().FormattedLength(), c.Notes())
	default:
		fmt.Println(path)
	}
	return nil
}

func listDir(ctx context.Context, fsys cp2fs.Filesystem, dir cp2fs.DirEntryRef, matcher interface{ Match(string) bool }) error {
	entries, err := fsys.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if matcher.Match(e.Name()) {
			tag := ""
			if e.IsDir() {
				tag = "/"
			}
			fmt.Println(e.Name() + tag)
		}
	}
	return nil
}

func printEntry(e cp2fs.EntryInfo) {
	tag := ""
	if e.IsDir {
		tag = "/"
	}
	fmt.Printf("%10d  %s%s\n", e.DataLength, e.Path, tag)
}
