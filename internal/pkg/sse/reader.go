// Package sse parses Server-Sent Events streams returned by upstream model
// backends.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single parsed event, delimited by a blank line in the stream.
type Event struct {
	// Type is the "event:" field. Empty means the default "message" type.
	Type string
	// Data holds all "data:" lines joined with "\n".
	Data string
	ID   string
}

type Reader struct {
	scanner *bufio.Scanner
	current *Event
	hasData bool
}

func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{
		scanner: scanner,
		current: &Event{},
	}
}

// Next blocks until a complete event is available. It returns nil, nil once
// the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Text()
		if raw == "" {
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(raw, ":") {
			continue
		}
		r.parseLine(raw)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}
	return nil, nil
}

func (r *Reader) parseLine(line string) {
	field, value, ok := strings.Cut(line, ":")
	if ok {
		value = strings.TrimPrefix(value, " ")
	} else {
		field = line
	}
	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.hasData = false
}
