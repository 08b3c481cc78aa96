// Package stream turns streamed backend responses into incremental text.
package stream

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"strings"
)

// Done is the data payload OpenAI-style servers send to end a stream.
const Done = "[DONE]"

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

// Events lazily parses r as a text/event-stream. The sequence ends after a
// [DONE] payload or at EOF, both of which are normal completion. A read error
// is yielded once and ends the sequence. Stopping the range early leaves r
// unread; closing it is the caller's job.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		br := bufio.NewReader(r)
		var ev Event
		var data []string
		pending := false
		flush := func() (Event, bool) {
			if !pending {
				return Event{}, false
			}
			out := ev
			out.Data = strings.Join(data, "\n")
			ev, data, pending = Event{}, nil, false
			return out, true
		}
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					if out, ok := flush(); ok {
						if out.Data == Done {
							return
						}
						if !yield(out, nil) {
							return
						}
					}
				} else if !strings.HasPrefix(line, ":") {
					field, value, _ := strings.Cut(line, ":")
					value = strings.TrimPrefix(value, " ")
					switch field {
					case "data":
						data = append(data, value)
						pending = true
					case "event":
						ev.Name = value
						pending = true
					case "id":
						ev.ID = value
					}
				}
			}
			if err != nil {
				if out, ok := flush(); ok && out.Data != Done {
					if !yield(out, nil) {
						return
					}
				}
				if !errors.Is(err, io.EOF) {
					yield(Event{}, err)
				}
				return
			}
		}
	}
}
