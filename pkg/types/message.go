package types

import "time"

// Message represents a single message
type Message struct {
	// Offset is the absolute commit log offset of the record, assigned on append.
	Offset     uint64
	ProducerID string
	SeqNum     uint64
	Epoch      int64
	Payload    string
	Key        string // optional: partition routing key

	StoreTimestamp time.Time
}

func (m Message) String() string {
	return m.Payload
}

// AppendResult represents the result of appending a message to storage
type AppendResult struct {
	Offset      uint64
	Size        int
	MsgID       string
	StoredAt    time.Time
	SegmentBase uint64
}
