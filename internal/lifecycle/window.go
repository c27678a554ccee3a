package lifecycle

// WindowEventKind is a window-lifecycle notification.
type WindowEventKind int

const (
	// CloseRequested asks to close; the window waits for AllowClose.
	CloseRequested WindowEventKind = iota
	// Destroyed is informational.
	Destroyed
)

func (k WindowEventKind) String() string {
	switch k {
	case CloseRequested:
		return "close_requested"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

type WindowEvent struct {
	Kind WindowEventKind
}

// Window is the UI layer the lifecycle drives.
type Window interface {
	// Navigate loads url as the window content.
	Navigate(url string) error
	// Events delivers window-lifecycle events. Closing the channel ends Run.
	Events() <-chan WindowEvent
	// AllowClose lets a pending close request finish.
	AllowClose()
}
