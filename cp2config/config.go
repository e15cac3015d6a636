// Package cp2config carries the small set of knobs that change Resolver
// and TransactionCoordinator behavior, the ambient configuration layer
// spec.md leaves implicit. Grounded on backend/*/*.go's Options struct +
// configstruct.Set pattern, simplified to plain struct fields bound
// directly by cobra/pflag flags in cmd/cp2 instead of rclone's
// provider-agnostic configmap.Mapper (this engine has exactly one
// configuration source: the command line).
package cp2config

import "github.com/fadden/cp2/container"

// Config holds every knob a cp2 command can set.
type Config struct {
	// SkipSimpleWrapper transparently descends single-entry wrapper
	// archives (gzip, single-disk NuFX) without requiring a path
	// component for them.
	SkipSimpleWrapper bool
	// AllowDirLeaf permits a path to terminate on a filesystem directory
	// instead of requiring a file.
	AllowDirLeaf bool
	// ReadOnly opens every host file in the tree without write access.
	ReadOnly bool
	// CaseSensitiveGlobs controls whether --include patterns
	// match case-sensitively.
	CaseSensitiveGlobs bool
	// Verbose raises the logging package's minimum level to Debug.
	Verbose bool
}

// Default returns the configuration a bare invocation of cmd/cp2 uses.
func Default() Config {
	return Config{SkipSimpleWrapper: true, AllowDirLeaf: true}
}

// WalkOptions projects the relevant fields into a container.WalkOptions.
func (c Config) WalkOptions() container.WalkOptions {
	return container.WalkOptions{
		SkipSimpleWrapper: c.SkipSimpleWrapper,
		AllowDirLeaf:      c.AllowDirLeaf,
		ReadOnly:          c.ReadOnly,
	}
}
