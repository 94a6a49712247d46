// Package source fetches HLS manifests and media segments over HTTP.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hls-ftp-relay/internal/relay"

	"github.com/livepeer/m3u8"
)

// DefaultTimeout bounds a single manifest or segment request.
const DefaultTimeout = 30 * time.Second

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPClient implements relay.ManifestSource and relay.SegmentSource.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

func NewHTTP(cfg HTTPConfig, log *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		log:       log,
	}
}

// FetchManifest downloads and parses the media playlist at url.
func (c *HTTPClient) FetchManifest(ctx context.Context, url string) (*relay.Manifest, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrManifestFetch, err)
	}
	m, err := ParseManifest(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return m, nil
}

// FetchSegment downloads the segment at url.
func (c *HTTPClient) FetchSegment(ctx context.Context, url string) ([]byte, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrSegmentDownload, err)
	}
	return body, nil
}

func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.log.Debug("downloaded",
		slog.String("url", url),
		slog.Int("bytes", len(body)),
		slog.Duration("took", time.Since(started)))
	return body, nil
}

// targetDurationTag declares the longest segment duration of a media playlist.
const targetDurationTag = "#EXT-X-TARGETDURATION:"

// ParseManifest decodes an HLS media playlist. Master playlists and
// undecodable input fail with relay.ErrManifestParse. TargetDuration is the
// declared EXT-X-TARGETDURATION, or 0 when the tag is missing or unreadable.
func ParseManifest(r io.Reader) (*relay.Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrManifestParse, err)
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrManifestParse, err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("%w: not a media playlist", relay.ErrManifestParse)
	}
	pl, ok := p.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("%w: not a media playlist", relay.ErrManifestParse)
	}

	// The decoder raises TargetDuration to the longest EXTINF it saw, so the
	// declared value is read from the tag itself.
	m := &relay.Manifest{TargetDuration: declaredTargetDuration(raw)}
	for _, seg := range pl.Segments {
		if seg == nil {
			continue
		}
		m.Segments = append(m.Segments, relay.ManifestSegment{URI: seg.URI})
	}
	return m, nil
}

func declaredTargetDuration(raw []byte) float64 {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		v, ok := strings.CutPrefix(line, targetDurationTag)
		if !ok {
			continue
		}
		td, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || td <= 0 || math.IsInf(td, 0) || math.IsNaN(td) {
			return 0
		}
		return td
	}
	return 0
}
