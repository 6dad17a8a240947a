package session

import "github.com/lawik/hub-link/internal/update"

// Kind discriminates the events a session reports to its observer.
type Kind int

const (
	Connected Kind = iota
	Joined
	UpdateAvailable
	FirmwareDownloaded
	FirmwareApplied
	RebootRequested
	Disconnected
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	case UpdateAvailable:
		return "update_available"
	case FirmwareDownloaded:
		return "firmware_downloaded"
	case FirmwareApplied:
		return "firmware_applied"
	case RebootRequested:
		return "reboot_requested"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification emitted by a running session.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind       Kind
	Reason     string
	Descriptor update.Descriptor
	Path       string
}
