// Package stream turns an upstream event-stream body into ordered text deltas.
package stream

import (
	"bytes"
	"strings"
)

// Sentinel is the data payload that ends an upstream stream.
const Sentinel = "[DONE]"

// Event is one complete event-stream unit.
type Event struct {
	Name string
	Data string
}

// IsSentinel reports whether the event terminates the stream.
func (e Event) IsSentinel() bool {
	return strings.TrimSpace(e.Data) == Sentinel
}

// Parser splits an event-stream byte stream into events. It keeps only the
// unconsumed tail between calls, so chunks may be split at any byte.
type Parser struct {
	tail []byte
}

var separator = []byte("\n\n")

// Feed appends chunk and returns every event completed by it, in order.
func (p *Parser) Feed(chunk []byte) []Event {
	for _, b := range chunk {
		if b != '\r' {
			p.tail = append(p.tail, b)
		}
	}

	var events []Event
	for {
		i := bytes.Index(p.tail, separator)
		if i < 0 {
			break
		}
		block := p.tail[:i]
		p.tail = p.tail[i+len(separator):]
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	if len(p.tail) == 0 {
		p.tail = nil
	}
	return events
}

// Flush parses whatever is left once the transport has ended.
func (p *Parser) Flush() []Event {
	block := p.tail
	p.tail = nil
	if ev, ok := parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

// Buffered returns the number of bytes held for the next Feed.
func (p *Parser) Buffered() int {
	return len(p.tail)
}

func parseBlock(block []byte) (Event, bool) {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for _, line := range strings.Split(string(block), "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Name = value
		}
	}
	if !hasData {
		return Event{}, false
	}
	ev.Data = strings.TrimSpace(strings.Join(data, "\n"))
	return ev, true
}
