package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NoteEntry is one timestamped line in an aggregate's note log.
type NoteEntry struct {
	At     time.Time `json:"at"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

// NoteLog is an append-only sequence of note entries. Existing entries are
// never edited or removed; staff actions concatenate new entries. It is
// persisted as a JSON array and rendered as a single string for receipts and
// legacy consumers.
type NoteLog []NoteEntry

// Append returns the log with a new entry added. Empty text is a no-op.
func (n NoteLog) Append(author, text string) NoteLog {
	text = strings.TrimSpace(text)
	if text == "" {
		return n
	}
	return append(n, NoteEntry{At: time.Now().UTC(), Author: author, Text: text})
}

// String renders the log as a concatenated text block, newest entry last.
func (n NoteLog) String() string {
	if len(n) == 0 {
		return ""
	}
	lines := make([]string, 0, len(n))
	for _, e := range n {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.At.Format(time.RFC3339), e.Author, e.Text))
	}
	return strings.Join(lines, "\n")
}

// Value implements driver.Valuer, storing the log as JSON.
func (n NoteLog) Value() (driver.Value, error) {
	if len(n) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (n *NoteLog) Scan(src interface{}) error {
	if src == nil {
		*n = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into NoteLog", src)
	}
	if len(data) == 0 {
		*n = nil
		return nil
	}
	return json.Unmarshal(data, n)
}

// ShippingAddress is the structured address for delivery/express orders,
// persisted as a JSON column.
type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Reference  string `json:"reference,omitempty"`
}

// Value implements driver.Valuer.
func (a ShippingAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *ShippingAddress) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ShippingAddress", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, a)
}
