package sse

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// FormatEvent encodes event in the text/event-stream format. Multi-line
// data is split across data fields.
func FormatEvent(event *Event) []byte {
	var b strings.Builder
	if event.ID != "" {
		b.WriteString("id: ")
		b.WriteString(oneLine(event.ID))
		b.WriteByte('\n')
	}
	if event.Event != "" {
		b.WriteString("event: ")
		b.WriteString(oneLine(event.Event))
		b.WriteByte('\n')
	}
	if event.Retry > 0 {
		b.WriteString("retry: ")
		b.WriteString(strconv.Itoa(event.Retry))
		b.WriteByte('\n')
	}
	if event.Data != "" {
		for _, line := range strings.Split(strings.ReplaceAll(event.Data, "\r\n", "\n"), "\n") {
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// NewMessageEvent creates a "message" event.
func NewMessageEvent(message string) *Event {
	return &Event{Event: "message", Data: message}
}

// NewJSONEvent creates an event whose data is v encoded as JSON.
func NewJSONEvent(name string, v any) (*Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Event{Event: name, Data: string(data)}, nil
}
