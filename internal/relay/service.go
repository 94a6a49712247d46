package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// reasonMissing marks a ValidationError raised for absent fields.
const reasonMissing = "missing required fields"

// StartRequest is the body of a start-stream call. A nil field was absent
// from the request.
type StartRequest struct {
	ManifestURL *string `json:"m3u8_url"`
	FTPHost     *string `json:"ftp_host"`
	FTPUser     *string `json:"ftp_user"`
	FTPPass     *string `json:"ftp_pass"`
	FTPPath     *string `json:"ftp_path"`
}

// Validate reports every absent field in one *ValidationError. The manifest
// URL and host must also be non-blank, and the URL must be absolute http(s).
func (req StartRequest) Validate() error {
	var missing []string
	check := func(name string, v *string, allowEmpty bool) {
		if v == nil || (!allowEmpty && strings.TrimSpace(*v) == "") {
			missing = append(missing, name)
		}
	}
	check("m3u8_url", req.ManifestURL, false)
	check("ftp_host", req.FTPHost, false)
	check("ftp_user", req.FTPUser, true)
	check("ftp_pass", req.FTPPass, true)
	check("ftp_path", req.FTPPath, true)
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Reason: reasonMissing}
	}

	u, err := url.Parse(*req.ManifestURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Fields: []string{"m3u8_url"}, Reason: "must be an absolute http(s) url"}
	}
	return nil
}

// Config converts a validated request into a StreamConfig.
func (req StartRequest) Config() StreamConfig {
	return StreamConfig{
		ManifestURL: *req.ManifestURL,
		Destination: Destination{
			Host:     *req.FTPHost,
			User:     *req.FTPUser,
			Password: *req.FTPPass,
			Path:     *req.FTPPath,
		},
	}
}

// Service is the control surface over a Registry.
type Service struct {
	registry *Registry
}

// NewService returns a Service that starts and stops streams in registry.
func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// StartStream validates req and starts relaying it. It returns as soon as the
// engine is registered.
func (s *Service) StartStream(req StartRequest) (StreamID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id, err := s.registry.Create(req.Config())
	if err != nil {
		return "", fmt.Errorf("start stream: %w", err)
	}
	return id, nil
}

// StopStream requests the stream to stop. It returns ErrStreamNotFound for
// unknown ids, including streams that have already exited.
func (s *Service) StopStream(id StreamID) error {
	return s.registry.Stop(id)
}

// GetStream returns the stats of a live stream.
func (s *Service) GetStream(id StreamID) (Stats, bool) {
	e, ok := s.registry.Get(id)
	if !ok {
		return Stats{}, false
	}
	return e.Stats(), true
}

// ListStreams returns the stats of every live stream.
func (s *Service) ListStreams() []Stats {
	return s.registry.List()
}

// ActiveStreams returns the number of live streams. Used for metrics.
func (s *Service) ActiveStreams() int {
	return s.registry.Count()
}
