package core

import "fmt"

// Availability is the capability state a model provider reports before a
// session is created.
type Availability string

const (
	// AvailabilityUnavailable means no session can be created without user action.
	AvailabilityUnavailable Availability = "unavailable"
	// AvailabilityDownloadable means the model exists but must be fetched first.
	AvailabilityDownloadable Availability = "downloadable"
	// AvailabilityDownloading means a fetch is already in progress.
	AvailabilityDownloading Availability = "downloading"
	// AvailabilityAvailable means a session can be created immediately.
	AvailabilityAvailable Availability = "available"
)

// NeedsDownload reports whether session creation has to observe download progress.
func (a Availability) NeedsDownload() bool {
	return a == AvailabilityDownloadable || a == AvailabilityDownloading
}

// ParseAvailability converts a provider supplied string into an Availability.
func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(s); a {
	case AvailabilityUnavailable, AvailabilityDownloadable, AvailabilityDownloading, AvailabilityAvailable:
		return a, nil
	default:
		return "", &ProtocolError{Message: fmt.Sprintf("unknown model availability %q", s)}
	}
}
