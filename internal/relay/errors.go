package relay

import (
	"errors"
	"strings"
)

var (
	// ErrManifestFetch is returned when the source manifest cannot be retrieved.
	ErrManifestFetch = errors.New("manifest fetch failed")

	// ErrManifestParse is returned when the source manifest is not a media playlist.
	ErrManifestParse = errors.New("manifest parse failed")

	// ErrSegmentDownload is returned when a source segment cannot be retrieved.
	ErrSegmentDownload = errors.New("segment download failed")

	ErrSinkWrite  = errors.New("sink write failed")
	ErrSinkList   = errors.New("sink list failed")
	ErrSinkDelete = errors.New("sink delete failed")

	// ErrStreamNotFound is returned for operations on an unknown stream id.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrValidation is returned when a start request is incomplete or malformed.
	ErrValidation = errors.New("validation failed")
)

// ValidationError lists the request fields that were missing or invalid.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
