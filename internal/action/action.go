package action

import "fmt"

// Kind identifies what an Action asks for or reports.
type Kind int

const (
	Start Kind = iota
	Stop
	Err
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case Err:
		return "Err"
	default:
		return "Unknown"
	}
}

// Action is the single message type exchanged between control sources,
// the session controller and notifiers. Reason is only set for Err.
type Action struct {
	Kind   Kind
	Reason string
}

var (
	StartAction = Action{Kind: Start}
	StopAction  = Action{Kind: Stop}
)

// Error builds an Err action carrying reason.
func Error(reason string) Action {
	return Action{Kind: Err, Reason: reason}
}

func (a Action) String() string {
	if a.Kind == Err {
		return fmt.Sprintf("Err(%s)", a.Reason)
	}
	return a.Kind.String()
}

// Sender is implemented by anything control sources can push actions into.
type Sender interface {
	Send(a Action)
}
