package midi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/errs"
)

const (
	// AnyChannel is the internal value of the '*' channel. It is outside
	// the 0-15 range of real MIDI channels.
	AnyChannel uint8 = 0xFF

	// TriggerValue is the only CC value that fires a transition.
	TriggerValue uint8 = 127

	// DefaultMapping listens on every port and channel with CC 16 to start
	// and CC 17 to stop.
	DefaultMapping = "[*[(*,16,17)]]"

	maxChannel = 15
	maxCC      = 127
)

// Trigger is one (channel, start CC, stop CC) triple.
type Trigger struct {
	Channel uint8
	StartCC uint8
	StopCC  uint8
}

// Wildcard reports whether the trigger matches any channel.
func (t Trigger) Wildcard() bool {
	return t.Channel == AnyChannel
}

func (t Trigger) String() string {
	ch := "*"
	if !t.Wildcard() {
		ch = strconv.Itoa(int(t.Channel))
	}
	return fmt.Sprintf("(%s, %d, %d)", ch, t.StartCC, t.StopCC)
}

// PortMapping binds a port-name glob pattern to its triggers.
type PortMapping struct {
	Pattern  string
	Triggers []Trigger
}

// Mapping is a parsed MIDI control configuration. Ports keep the order in
// which they were written; a pattern written twice keeps the last triggers.
type Mapping struct {
	Ports []PortMapping
}

// Binding is the live form of a mapping for one discovered port.
type Binding struct {
	Port     string
	Triggers []Trigger
}

// ParseMapping parses text written in the mapping grammar:
//
//	config  := '[' port (',' port)* ']'
//	port    := name '[' trigger (',' trigger)* ']'
//	trigger := '(' chan ',' start_cc ',' stop_cc ')'
//	chan    := digits | '*'
func ParseMapping(text string) (Mapping, error) {
	p := &parser{src: text}
	ports, err := p.config()
	if err != nil {
		return Mapping{}, err
	}

	var m Mapping
	for _, port := range ports {
		replaced := false
		for i := range m.Ports {
			if m.Ports[i].Pattern == port.Pattern {
				m.Ports[i] = port
				replaced = true
				break
			}
		}
		if !replaced {
			m.Ports = append(m.Ports, port)
		}
	}
	return m, nil
}

// MustParseMapping is ParseMapping for compile-time constants.
func MustParseMapping(text string) Mapping {
	m, err := ParseMapping(text)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the mapping back into the grammar.
func (m Mapping) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, port := range m.Ports {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(port.Pattern)
		b.WriteByte('[')
		for j, t := range port.Triggers {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.String())
		}
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// Resolve matches every pattern against the discovered port names. A pattern
// matching no port is a ConfigError. A port matched by several patterns gets a
// single binding holding all of their triggers.
func (m Mapping) Resolve(ports []string) ([]Binding, error) {
	var bindings []Binding
	index := make(map[string]int)

	for _, pm := range m.Ports {
		g, err := glob.Compile(pm.Pattern)
		if err != nil {
			return nil, errs.Configf("invalid MIDI port pattern %q: %v", pm.Pattern, err)
		}

		matched := 0
		for _, name := range ports {
			if !g.Match(name) {
				continue
			}
			matched++
			if i, ok := index[name]; ok {
				bindings[i].Triggers = append(bindings[i].Triggers, pm.Triggers...)
				continue
			}
			index[name] = len(bindings)
			bindings = append(bindings, Binding{
				Port:     name,
				Triggers: append([]Trigger(nil), pm.Triggers...),
			})
		}
		if matched == 0 {
			return nil, errs.Configf("no MIDI port found matching the pattern %q", pm.Pattern)
		}
	}
	return bindings, nil
}

// Match returns the actions a Control-Change message fires. Exact-channel
// triggers are evaluated first, then wildcard triggers; both kinds fire
// independently, so one message can yield the same action more than once.
func Match(triggers []Trigger, channel, cc, value uint8) []action.Action {
	if value != TriggerValue {
		return nil
	}

	var out []action.Action
	for _, t := range triggers {
		if t.Wildcard() || t.Channel != channel {
			continue
		}
		out = appendFired(out, t, cc)
	}
	for _, t := range triggers {
		if !t.Wildcard() {
			continue
		}
		out = appendFired(out, t, cc)
	}
	return out
}

func appendFired(out []action.Action, t Trigger, cc uint8) []action.Action {
	if cc == t.StartCC {
		out = append(out, action.StartAction)
	}
	if cc == t.StopCC {
		out = append(out, action.StopAction)
	}
	return out
}

// Match is Match over the binding's triggers.
func (b Binding) Match(channel, cc, value uint8) []action.Action {
	return Match(b.Triggers, channel, cc, value)
}

type parser struct {
	src string
	pos int
}

func (p *parser) config() ([]PortMapping, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	var ports []PortMapping
	for {
		port, err := p.port()
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)

		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.fail("unexpected trailing input")
	}
	return ports, nil
}

func (p *parser) port() (PortMapping, error) {
	rest := p.src[p.pos:]
	open := strings.IndexByte(rest, '[')
	if open < 0 {
		return PortMapping{}, p.fail("expected '[' after port name")
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return PortMapping{}, p.fail("empty port name")
	}
	p.pos += open + 1

	var triggers []Trigger
	for {
		t, err := p.trigger()
		if err != nil {
			return PortMapping{}, err
		}
		triggers = append(triggers, t)

		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(']'); err != nil {
		return PortMapping{}, err
	}
	return PortMapping{Pattern: name, Triggers: triggers}, nil
}

func (p *parser) trigger() (Trigger, error) {
	if err := p.expect('('); err != nil {
		return Trigger{}, err
	}

	var t Trigger
	p.skipSpace()
	if p.peek() == '*' {
		p.pos++
		t.Channel = AnyChannel
	} else {
		ch, err := p.number("channel", maxChannel)
		if err != nil {
			return Trigger{}, err
		}
		t.Channel = ch
	}

	if err := p.expect(','); err != nil {
		return Trigger{}, err
	}
	start, err := p.number("start CC", maxCC)
	if err != nil {
		return Trigger{}, err
	}
	if err := p.expect(','); err != nil {
		return Trigger{}, err
	}
	stop, err := p.number("stop CC", maxCC)
	if err != nil {
		return Trigger{}, err
	}
	if err := p.expect(')'); err != nil {
		return Trigger{}, err
	}

	t.StartCC = start
	t.StopCC = stop
	return t, nil
}

func (p *parser) number(what string, max int) (uint8, error) {
	p.skipSpace()
	begin := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if begin == p.pos {
		return 0, p.fail(fmt.Sprintf("expected numeric %s", what))
	}
	n, err := strconv.Atoi(p.src[begin:p.pos])
	if err != nil || n > max {
		p.pos = begin
		return 0, p.fail(fmt.Sprintf("%s out of range 0-%d", what, max))
	}
	return uint8(n), nil
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.fail(fmt.Sprintf("expected '%c'", c))
	}
	p.pos++
	return nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// fail reports a ConfigError quoting a short window around the cursor.
func (p *parser) fail(msg string) error {
	end := p.pos + 12
	if end > len(p.src) {
		end = len(p.src)
	}
	fragment := p.src[p.pos:end]
	if fragment == "" {
		fragment = "<end of input>"
	}
	return errs.Configf("cannot parse MIDI config %q: %s near %q", p.src, msg, fragment)
}
