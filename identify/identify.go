// Package identify classifies a stream by handing it to every registered
// cp2fs.Prober in turn, the generalization of backend/archive/archiver.New's
// single zip/gzip/7z dispatch to an open-ended, plug-in-registered set.
package identify

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fadden/cp2/cp2fs"
)

// ResultKind tags what a stream was recognized as.
type ResultKind int

// Result kinds.
const (
	ResultNone ResultKind = iota
	ResultArchive
	ResultDiskImage
)

// Result is the outcome of Identify.
type Result struct {
	Kind      ResultKind
	Name      string // the winning Prober's Name, for logging
	Archive   cp2fs.Archive
	DiskImage cp2fs.DiskImage
}

// Identify probes data against the registered format plug-ins, trying the
// extension-matched probers first (spec.md §4.2's "extension as a hint, not
// an authority") and falling back to every other registered prober in
// registration order. The first prober that recognizes the stream wins; no
// further probers are tried.
func Identify(ctx context.Context, data cp2fs.ReaderAtCloser, size int64, nameHint string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(nameHint))

	tried := make(map[string]bool)
	ordered := append([]cp2fs.Prober{}, cp2fs.ForExtension(ext)...)
	for _, p := range ordered {
		tried[p.Name] = true
	}
	for _, p := range cp2fs.Registered() {
		if !tried[p.Name] {
			ordered = append(ordered, p)
			tried[p.Name] = true
		}
	}

	for _, p := range ordered {
		content, ok, err := p.Probe(ctx, data, size)
		if err != nil {
			return Result{}, cp2fs.NewError(cp2fs.KindFormat, "identify", err)
		}
		if !ok {
			continue
		}
		switch c := content.(type) {
		case cp2fs.Archive:
			return Result{Kind: ResultArchive, Name: p.Name, Archive: c}, nil
		case cp2fs.DiskImage:
			return Result{Kind: ResultDiskImage, Name: p.Name, DiskImage: c}, nil
		default:
			return Result{}, cp2fs.NewError(cp2fs.KindFormat, "identify", cp2fs.ErrUnrecognized)
		}
	}
	return Result{Kind: ResultNone}, nil
}
