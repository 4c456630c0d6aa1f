package models

import (
	"encoding/json"
	"time"
)

// Message is a single payload published to a room. CreatedAt is assigned by
// the message log at append time and is the value clients keep as their
// watermark.
type Message struct {
	Room      string
	Payload   string
	CreatedAt time.Time
}

// messageJSON is the wire form of Message. created_at travels as
// milliseconds since the Unix epoch, matching the watermark unit.
type messageJSON struct {
	Room      string `json:"room"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Room:      m.Room,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt.UnixMilli(),
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Room = wire.Room
	m.Payload = wire.Payload
	m.CreatedAt = time.UnixMilli(wire.CreatedAt).UTC()
	return nil
}
