package types

import "context"

// StorageHandler is the commit log of one topic partition.
type StorageHandler interface {
	// ReadMessages returns up to max messages starting at offset, and the
	// offset to resume reading from.
	ReadMessages(offset uint64, max int) ([]Message, uint64, error)
	GetLatestOffset() uint64
	GetCommittedOffset() uint64
	GetSegmentPath(baseOffset uint64) string

	AppendMessage(msg *Message) (AppendResult, error)
	AppendMessageSync(msg *Message) (AppendResult, error)
	WriteBatch(batch []*Message) ([]AppendResult, error)

	EnforceRetention(ctx context.Context) int
	Flush()
	Close() error
}
