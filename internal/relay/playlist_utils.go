package relay

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// PlaylistFilename is the name of the derived playlist in the destination directory.
	PlaylistFilename = "playlist.m3u8"

	// SegmentSuffix marks the files that belong in the derived playlist.
	SegmentSuffix = ".ts"

	// TempSuffix ends the names of uploads that have not been renamed into
	// place yet.
	TempSuffix = ".part"

	// DefaultTargetDuration is written when the source declares no target duration.
	DefaultTargetDuration = 10.0
)

// BuildDestinationPlaylist renders the destination playlist for the given
// segment filenames, which must already be filtered and sorted (see SegmentNames).
// A non-positive targetDuration falls back to DefaultTargetDuration.
// The output depends only on its arguments.
func BuildDestinationPlaylist(names []string, targetDuration float64) string {
	if targetDuration <= 0 {
		targetDuration = DefaultTargetDuration
	}

	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(targetDuration))))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	extinf := formatDuration(targetDuration)
	for _, name := range names {
		b.WriteString("#EXTINF:")
		b.WriteString(extinf)
		b.WriteString(",\n")
		b.WriteString(name)
		b.WriteString("\n")
	}

	return b.String()
}

// SegmentNames returns the names of entries carrying SegmentSuffix, sorted ascending.
func SegmentNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name, SegmentSuffix) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

// formatDuration keeps at least one decimal place so whole durations render as "10.0".
func formatDuration(d float64) string {
	s := strconv.FormatFloat(d, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// rebuildPlaylist recomputes the playlist from the sink's current listing and
// overwrites PlaylistFilename. It keeps no state between calls, so the polling
// loop and the sweeper may run it concurrently.
func rebuildPlaylist(ctx context.Context, sink Sink, targetDuration float64) (int, error) {
	entries, err := sink.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSinkList, err)
	}

	names := SegmentNames(entries)
	body := BuildDestinationPlaylist(names, targetDuration)
	if err := sink.Store(ctx, PlaylistFilename, []byte(body)); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSinkWrite, PlaylistFilename, err)
	}
	return len(names), nil
}
