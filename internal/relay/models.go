package relay

import "time"

// StreamID uniquely identifies a relayed stream for the lifetime of the process.
type StreamID string

// Destination describes the FTP directory a stream is mirrored into.
type Destination struct {
	Host     string
	User     string
	Password string
	Path     string
}

// StreamConfig is fixed when a stream is created and owned by its Engine.
type StreamConfig struct {
	ID          StreamID
	ManifestURL string
	Destination Destination
}

// State is the lifecycle state of an Engine.
type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ManifestSegment is one media segment reference as listed by the source manifest.
// URI may be relative to the manifest location.
type ManifestSegment struct {
	URI string
}

// Manifest is the parsed source playlist.
type Manifest struct {
	// TargetDuration in seconds; zero when the manifest does not declare one.
	TargetDuration float64
	Segments       []ManifestSegment
}

// Entry is a single file in the destination directory.
type Entry struct {
	Name    string
	ModTime time.Time
}

// Stats is a point-in-time view of an Engine, exposed by the lookup endpoints.
type Stats struct {
	ID             StreamID  `json:"stream_id"`
	ManifestURL    string    `json:"m3u8_url"`
	State          string    `json:"state"`
	TargetDuration float64   `json:"target_duration"`
	Relayed        int64     `json:"segments_relayed"`
	LastPollAt     time.Time `json:"last_poll_at"`
	StartedAt      time.Time `json:"started_at"`
}
