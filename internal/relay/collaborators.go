package relay

import "context"

// ManifestSource fetches and parses a source HLS manifest.
// Implementations wrap their failures in ErrManifestFetch or ErrManifestParse.
type ManifestSource interface {
	FetchManifest(ctx context.Context, url string) (*Manifest, error)
}

// SegmentSource downloads raw segment bytes.
// Implementations wrap their failures in ErrSegmentDownload.
type SegmentSource interface {
	FetchSegment(ctx context.Context, url string) ([]byte, error)
}

// Sink is a destination directory. Every method is scoped to the directory
// the sink was built for. Store replaces any existing file of the same name
// as a whole.
type Sink interface {
	Store(ctx context.Context, name string, data []byte) error
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, name string) error
}

// SinkDialer builds the Sink for one stream's destination.
type SinkDialer interface {
	Sink(dst Destination) (Sink, error)
}

// SinkDialerFunc adapts a function to SinkDialer.
type SinkDialerFunc func(dst Destination) (Sink, error)

// Sink implements SinkDialer.
func (f SinkDialerFunc) Sink(dst Destination) (Sink, error) {
	return f(dst)
}

// Dependencies are the collaborators shared by every engine in a registry.
type Dependencies struct {
	Manifests ManifestSource
	Segments  SegmentSource
	Sinks     SinkDialer
}
