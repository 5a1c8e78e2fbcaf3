package midi

import (
	"log/slog"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/errs"
)

// Listener holds one live connection per bound input port. The MIDI driver
// calls each connection's handler on its own goroutine.
type Listener struct {
	ports []string
	stops []func()
}

// Listen resolves mapping against the input ports the driver reports and
// starts listening on every match. Matched Control-Change messages are pushed
// into sink. Resolution failures are ConfigErrors, failures to open a port are
// TransportErrors.
func Listen(mapping Mapping, sink action.Sender) (*Listener, error) {
	ins := gomidi.GetInPorts()
	bindings, err := mapping.Resolve(inPortNames(ins))
	if err != nil {
		return nil, err
	}

	l := &Listener{}
	for _, b := range bindings {
		for _, in := range ins {
			if in.String() != b.Port {
				continue
			}
			stop, err := gomidi.ListenTo(in, Handler(b, sink), gomidi.HandleError(func(listenErr error) {
				slog.Warn("MIDI listener error", "port", b.Port, "error", listenErr)
			}))
			if err != nil {
				l.Close()
				return nil, errs.Transportf("failed to listen on MIDI input port %q: %v", b.Port, err)
			}
			l.stops = append(l.stops, stop)
			l.ports = append(l.ports, b.Port)
			slog.Info("Listening on MIDI input port", "port", b.Port, "triggers", len(b.Triggers))
			break
		}
	}
	return l, nil
}

// Handler turns Control-Change messages on b's port into actions.
func Handler(b Binding, sink action.Sender) func(msg gomidi.Message, timestampms int32) {
	return func(msg gomidi.Message, _ int32) {
		var channel, cc, value uint8
		if !msg.GetControlChange(&channel, &cc, &value) {
			return
		}
		for _, a := range b.Match(channel, cc, value) {
			slog.Debug("MIDI trigger", "port", b.Port, "channel", channel, "cc", cc, "action", a.String())
			sink.Send(a)
		}
	}
}

// Ports returns the bound port names
func (l *Listener) Ports() []string {
	return l.ports
}

// Close stops every connection
func (l *Listener) Close() {
	for _, stop := range l.stops {
		stop()
	}
	l.stops = nil
}

type output struct {
	port     string
	send     func(msg gomidi.Message) error
	triggers []Trigger
}

// Notifier acknowledges controller outcomes on MIDI output ports by echoing
// the configured start or stop CC with value 127.
type Notifier struct {
	outputs []output
}

// NewNotifier resolves mapping against the output ports and opens them.
func NewNotifier(mapping Mapping) (*Notifier, error) {
	outs := gomidi.GetOutPorts()
	bindings, err := mapping.Resolve(outPortNames(outs))
	if err != nil {
		return nil, err
	}

	n := &Notifier{}
	for _, b := range bindings {
		for _, out := range outs {
			if out.String() != b.Port {
				continue
			}
			send, err := gomidi.SendTo(out)
			if err != nil {
				return nil, errs.Transportf("failed to open MIDI output port %q: %v", b.Port, err)
			}
			n.outputs = append(n.outputs, output{port: b.Port, send: send, triggers: b.Triggers})
			slog.Info("Sending notifications on MIDI output port", "port", b.Port)
			break
		}
	}
	return n, nil
}

// Run sends acknowledgements for every reply on q until q is closed.
func (n *Notifier) Run(q *action.Queue) {
	action.Drain(q, n.Notify)
}

// Notify sends the acknowledgement for a on every output. Send failures are
// logged and skipped.
func (n *Notifier) Notify(a action.Action) {
	for _, out := range n.outputs {
		for _, msg := range Acknowledgements(out.triggers, a) {
			if err := out.send(msg); err != nil {
				slog.Warn("Error sending CC message", "port", out.port, "error", err)
			}
		}
	}
}

// Acknowledgements returns the CC messages that acknowledge a. A wildcard
// trigger is echoed on all sixteen channels. Err is never acknowledged.
func Acknowledgements(triggers []Trigger, a action.Action) []gomidi.Message {
	if a.Kind == action.Err {
		return nil
	}

	var msgs []gomidi.Message
	for _, t := range triggers {
		cc := t.StartCC
		if a.Kind == action.Stop {
			cc = t.StopCC
		}
		if t.Wildcard() {
			for ch := uint8(0); ch <= maxChannel; ch++ {
				msgs = append(msgs, gomidi.ControlChange(ch, cc, TriggerValue))
			}
			continue
		}
		msgs = append(msgs, gomidi.ControlChange(t.Channel, cc, TriggerValue))
	}
	return msgs
}

// InPorts lists the MIDI input port names
func InPorts() []string {
	return inPortNames(gomidi.GetInPorts())
}

// OutPorts lists the MIDI output port names
func OutPorts() []string {
	return outPortNames(gomidi.GetOutPorts())
}

// Close shuts the MIDI driver down
func Close() {
	gomidi.CloseDriver()
}

func inPortNames(ins []drivers.In) []string {
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

func outPortNames(outs []drivers.Out) []string {
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}
