package codec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

// MessageEncoder appends *types.Message records to a segment. One encoder
// serves every segment of a log, so it is told the common segment size to
// work out where in the segment the free space starts.
//
// An encoder is used by the single writer of its log and is not safe for
// concurrent use.
type MessageEncoder struct {
	segmentSize     int
	maxMessageSize  int
	compression     string
	compressionCode byte
	now             func() time.Time
}

func NewMessageEncoder(segmentSize, maxMessageSize int, compression string) (*MessageEncoder, error) {
	code, err := util.CompressionCode(compression)
	if err != nil {
		return nil, err
	}
	if segmentSize <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", segmentSize)
	}
	if maxMessageSize <= 0 || maxMessageSize > segmentSize-BlankMinSize {
		maxMessageSize = segmentSize - BlankMinSize
	}
	return &MessageEncoder{
		segmentSize:     segmentSize,
		maxMessageSize:  maxMessageSize,
		compression:     compression,
		compressionCode: code,
		now:             time.Now,
	}, nil
}

var _ segment.AppendCallback = (*MessageEncoder)(nil)

// DoAppend encodes record, which must be a *types.Message. On success the
// message's Offset and StoreTimestamp are filled in. When the record does not
// fit, the rest of the segment is closed with a blank marker and
// AppendOverflow is returned so the caller rolls to a new segment.
func (e *MessageEncoder) DoAppend(fileFromOffset int64, dst []byte, maxBlank int, record any) segment.AppendResult {
	msg, ok := record.(*types.Message)
	if !ok || msg == nil {
		util.Error("encoder: unexpected record type %T", record)
		return segment.AppendResult{Status: segment.AppendUnknownError}
	}

	if msg.ProducerID == "" {
		msg.ProducerID = uuid.NewString()
	}
	if !fitsUint16(len(msg.ProducerID)) || !fitsUint16(len(msg.Key)) {
		util.Warn("encoder: producer id or key too long (%d, %d bytes)", len(msg.ProducerID), len(msg.Key))
		return segment.AppendResult{Status: segment.AppendPropertiesSizeExceeded}
	}

	payload, err := util.CompressMessage([]byte(msg.Payload), e.compression)
	if err != nil {
		util.Error("encoder: compress with %s failed: %v", e.compression, err)
		return segment.AppendResult{Status: segment.AppendUnknownError}
	}

	size := RecordSize(len(msg.ProducerID), len(msg.Key), len(payload))
	if size > e.maxMessageSize {
		util.Warn("encoder: message size %d exceeds limit %d", size, e.maxMessageSize)
		return segment.AppendResult{Status: segment.AppendMessageSizeExceeded}
	}

	now := e.now()
	if size+BlankMinSize > maxBlank {
		if maxBlank >= BlankMinSize {
			putBlank(dst, maxBlank)
		}
		return segment.AppendResult{
			Status:         segment.AppendOverflow,
			WroteBytes:     maxBlank,
			StoreTimestamp: now,
		}
	}

	wroteOffset := fileFromOffset + int64(e.segmentSize-maxBlank)
	msg.Offset = uint64(wroteOffset)
	msg.StoreTimestamp = now
	encodeInto(dst[:size], msg, e.compressionCode, payload)

	return segment.AppendResult{
		Status:         segment.AppendOK,
		WroteOffset:    wroteOffset,
		WroteBytes:     size,
		StoreTimestamp: now,
		MsgID:          MessageID(wroteOffset),
	}
}
