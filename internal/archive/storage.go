package archive

import "context"

// Storage is a flat blob store for cache snapshot exports. Backends are
// expected to treat paths as opaque forward-slash keys.
type Storage interface {
	// Write stores data at the given path, creating parents as needed.
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves the data stored at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns every path under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at path.
	Delete(ctx context.Context, path string) error

	// Exists reports whether data is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}
