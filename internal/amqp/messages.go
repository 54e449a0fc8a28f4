package amqp

import (
	"encoding/json"
	"time"
)

// Op names the mutation that produced a RecordChangedMessage.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// RecordChangedMessage announces that one sales record changed. It carries
// only identity and the affected years; consumers reload the collection.
type RecordChangedMessage struct {
	Collection   string    `json:"collection"`
	ID           string    `json:"id"`
	Op           Op        `json:"op"`
	Year         int       `json:"year"`
	PreviousYear int       `json:"previousYear,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewRecordChangedMessage creates a message stamped with the current time.
// previousYear is the year before an update, or 0.
func NewRecordChangedMessage(collection, id string, op Op, year, previousYear int) *RecordChangedMessage {
	return &RecordChangedMessage{
		Collection:   collection,
		ID:           id,
		Op:           op,
		Year:         year,
		PreviousYear: previousYear,
		Timestamp:    time.Now(),
	}
}

// Years returns the distinct years whose view the change touched.
func (m *RecordChangedMessage) Years() []int {
	years := []int{}
	if m.Year != 0 {
		years = append(years, m.Year)
	}
	if m.PreviousYear != 0 && m.PreviousYear != m.Year {
		years = append(years, m.PreviousYear)
	}
	return years
}

// ToJSON converts the message to JSON bytes
func (m *RecordChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordChangedMessageFromJSON decodes a message body.
func RecordChangedMessageFromJSON(data []byte) (*RecordChangedMessage, error) {
	var msg RecordChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
