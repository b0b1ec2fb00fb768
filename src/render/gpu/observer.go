package gpu

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Message is a diagnostic reported by the accelerator or its validation layers.
type Message struct {
	Severity Severity
	Code     int32
	Layer    string
	Text     string
}

// Observer receives accelerator diagnostics. Implementations must not call
// back into the device.
type Observer interface {
	Observe(msg Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(msg Message)

func (f ObserverFunc) Observe(msg Message) { f(msg) }

// Observable is implemented by devices that can report diagnostics.
// Passing nil unregisters the current observer.
type Observable interface {
	SetObserver(o Observer)
}
