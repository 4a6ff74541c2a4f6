package ports

import "context"

// VersionSource reports the installed version from somewhere other than the
// environment or manifest, e.g. the tags of a source checkout.
type VersionSource interface {
	// LocalVersion returns "" without error when the source knows no version.
	LocalVersion(ctx context.Context) (string, error)
}
