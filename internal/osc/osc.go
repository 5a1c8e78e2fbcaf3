// Package osc connects smrec to Open Sound Control peers: a UDP receiver
// that turns /smrec/start and /smrec/stop into actions, and a notifier that
// echoes controller outcomes.
package osc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/errs"
)

const (
	AddrStart = "/smrec/start"
	AddrStop  = "/smrec/stop"
	AddrError = "/smrec/error"

	maxPacketSize = 65535
)

var _ osc.Dispatcher = (*Dispatcher)(nil)

// Dispatcher feeds actions decoded from OSC packets into a sink.
type Dispatcher struct {
	sink action.Sender
}

// NewDispatcher creates a dispatcher pushing into sink
func NewDispatcher(sink action.Sender) *Dispatcher {
	return &Dispatcher{sink: sink}
}

// Dispatch implements osc.Dispatcher.
func (d *Dispatcher) Dispatch(packet osc.Packet) {
	for _, a := range Actions(packet) {
		d.sink.Send(a)
	}
}

// Actions returns the actions carried by packet in order. Bundles are
// unpacked recursively, messages before nested bundles. Unknown addresses
// are ignored.
func Actions(packet osc.Packet) []action.Action {
	var out []action.Action
	collect(packet, &out)
	return out
}

func collect(packet osc.Packet, out *[]action.Action) {
	switch p := packet.(type) {
	case *osc.Message:
		switch p.Address {
		case AddrStart:
			*out = append(*out, action.StartAction)
		case AddrStop:
			*out = append(*out, action.StopAction)
		default:
			slog.Debug("Ignoring OSC message", "address", p.Address)
		}
	case *osc.Bundle:
		for _, m := range p.Messages {
			collect(m, out)
		}
		for _, b := range p.Bundles {
			collect(b, out)
		}
	}
}

// Receiver reads OSC packets from a UDP socket and dispatches them in
// arrival order on a single goroutine.
type Receiver struct {
	conn       net.PacketConn
	dispatcher osc.Dispatcher
}

// Listen binds addr. A bind failure is a TransportError.
func Listen(addr string, dispatcher osc.Dispatcher) (*Receiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errs.Transportf("failed to listen for OSC on %s: %v", addr, err)
	}
	slog.Info("Listening for OSC messages", "address", conn.LocalAddr().String())
	return &Receiver{conn: conn, dispatcher: dispatcher}, nil
}

// Addr returns the bound address
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve blocks until the receiver is closed. Undecodable packets are logged
// and skipped.
func (r *Receiver) Serve() error {
	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("OSC receive failed: %w", err)
		}

		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			slog.Warn("Error decoding OSC packet", "from", from.String(), "error", err)
			continue
		}
		r.dispatcher.Dispatch(packet)
	}
}

// Close stops Serve
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Notifier sends acknowledgements to one OSC peer.
type Notifier struct {
	addr   string
	client *osc.Client
}

// NewNotifier targets host:port. A malformed address is a ConfigError.
func NewNotifier(addr string) (*Notifier, error) {
	host, port, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	slog.Info("Sending OSC messages", "address", addr)
	return &Notifier{addr: addr, client: osc.NewClient(host, port)}, nil
}

// Run sends a message for every reply on q until q is closed.
func (n *Notifier) Run(q *action.Queue) {
	action.Drain(q, n.Notify)
}

// Notify sends the message for a, logging send failures.
func (n *Notifier) Notify(a action.Action) {
	if err := n.client.Send(Message(a)); err != nil {
		slog.Warn("Error sending OSC packet", "address", n.addr, "error", err)
	}
}

// Message builds the outbound message for a. Err carries its reason as the
// only argument.
func Message(a action.Action) *osc.Message {
	switch a.Kind {
	case action.Start:
		return osc.NewMessage(AddrStart)
	case action.Stop:
		return osc.NewMessage(AddrStop)
	default:
		return osc.NewMessage(AddrError, a.Reason)
	}
}

// ParseFlag splits "listen;send". Missing or empty parts fall back to the
// given defaults.
func ParseFlag(value, defaultListen, defaultSend string) (listen, send string, err error) {
	parts := strings.Split(value, ";")
	if len(parts) > 2 {
		return "", "", errs.Configf("too many arguments for --osc: %q", value)
	}

	listen, send = defaultListen, defaultSend
	if p := strings.TrimSpace(parts[0]); p != "" {
		listen = p
	}
	if len(parts) == 2 {
		if p := strings.TrimSpace(parts[1]); p != "" {
			send = p
		}
	}

	if _, _, err := SplitAddr(listen); err != nil {
		return "", "", err
	}
	if _, _, err := SplitAddr(send); err != nil {
		return "", "", err
	}
	return listen, send, nil
}

// SplitAddr parses host:port
func SplitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, errs.Configf("invalid OSC address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, errs.Configf("invalid OSC port in %q", addr)
	}
	return host, port, nil
}
