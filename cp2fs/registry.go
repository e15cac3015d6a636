package cp2fs

import "context"

// Prober is a format plug-in's probe entry point, registered once at
// package init via Register. The shape mirrors
// backend/archive/archiver.Archiver.New in the teacher: given an opened
// stream it either recognizes its own format and returns a Content, or
// declines by returning ok=false.
type Prober struct {
	// Name identifies the plug-in in logs and error messages.
	Name string
	// Extensions lists filename suffixes (lower-case, leading dot) this
	// prober is the preferred match for, used to order the probe list
	// per the extension hint in spec.md §4.2.
	Extensions []string
	// Probe attempts to recognize data, rewinding itself internally so
	// it may be called speculatively. size is the total stream length,
	// -1 if unknown.
	Probe func(ctx context.Context, data ReaderAtCloser, size int64) (content Content, ok bool, err error)
}

// ReaderAtCloser is the minimal capability every Prober needs from a
// stream: random access plus lifecycle. Streams backed by TempStore and
// by *os.File both satisfy it trivially.
type ReaderAtCloser interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// registry is the process-wide list of registered probers, appended to
// by each format plug-in's init(), exactly as archiver.Archivers is
// built up by every backend/archive/*/init().
var registry []Prober

// Register adds probers to the registry. Plug-in packages call this
// from their own init().
func Register(probers ...Prober) {
	registry = append(registry, probers...)
}

// Registered returns the probers registered so far, in registration
// order — the fixed, most-specific-first probe order spec.md §4.2
// requires is a property of import/init order, which callers control by
// choosing which plug-in packages they blank-import (mirrors
// backend/archive/archive.go's `_ "github.com/rclone/rclone/backend/archive/zip"`
// import-for-side-effect style).
func Registered() []Prober {
	out := make([]Prober, len(registry))
	copy(out, registry)
	return out
}

// ForExtension returns the probers whose Extensions contain ext (a
// lower-case, leading-dot suffix), in registration order.
func ForExtension(ext string) []Prober {
	var out []Prober
	for _, p := range registry {
		for _, e := range p.Extensions {
			if e == ext {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
