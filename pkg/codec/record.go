// Package codec defines the on-disk layout of commit log records and the
// AppendCallback that writes them straight into a mapped segment.
//
// Record layout, big endian:
//
//	totalSize   u32
//	magic       u32
//	checksum    u32   xxhash of everything after this field
//	storeTime   i64   unix millis
//	offset      i64   absolute commit log offset of the record
//	seqNum      u64
//	epoch       i64
//	compression u8
//	producerID  u16 length + bytes
//	key         u16 length + bytes
//	payload     u32 length + bytes
//
// A segment whose remaining space cannot hold the next record is closed with
// a blank marker: totalSize covering the rest of the segment and BlankMagic.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

const (
	MessageMagic uint32 = 0x43525331
	BlankMagic   uint32 = 0x424C4E4B

	// headerSize is the fixed part of a record, excluding variable fields.
	headerSize = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 1 + 2 + 2 + 4
	// checksumFrom is where checksummed bytes begin.
	checksumFrom = 12
	// BlankMinSize is the space always kept free for an end-of-segment marker.
	BlankMinSize = 8
)

var (
	// ErrBlank marks the end-of-segment filler; skip to the next segment.
	ErrBlank = errors.New("codec: end of segment marker")
	// ErrEndOfData means no record has been written at this position.
	ErrEndOfData = errors.New("codec: no more records")
	ErrCorrupt   = errors.New("codec: corrupt record")
	// ErrShortBuffer means the buffer ends inside a record.
	ErrShortBuffer = errors.New("codec: buffer ends inside record")
)

// RecordSize is the encoded size of a record with the given field lengths.
func RecordSize(producerIDLen, keyLen, payloadLen int) int {
	return headerSize + producerIDLen + keyLen + payloadLen
}

// MessageID renders a record offset the way it is reported to producers.
func MessageID(offset int64) string {
	return fmt.Sprintf("%016X", offset)
}

func putBlank(dst []byte, size int) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(size))
	binary.BigEndian.PutUint32(dst[4:8], BlankMagic)
}

// encodeInto writes a complete record into dst, which must be exactly
// RecordSize bytes.
func encodeInto(dst []byte, msg *types.Message, compression byte, payload []byte) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(dst)))
	binary.BigEndian.PutUint32(dst[4:8], MessageMagic)

	pos := checksumFrom
	binary.BigEndian.PutUint64(dst[pos:], uint64(msg.StoreTimestamp.UnixMilli()))
	pos += 8
	binary.BigEndian.PutUint64(dst[pos:], msg.Offset)
	pos += 8
	binary.BigEndian.PutUint64(dst[pos:], msg.SeqNum)
	pos += 8
	binary.BigEndian.PutUint64(dst[pos:], uint64(msg.Epoch))
	pos += 8
	dst[pos] = compression
	pos++

	binary.BigEndian.PutUint16(dst[pos:], uint16(len(msg.ProducerID)))
	pos += 2
	pos += copy(dst[pos:], msg.ProducerID)

	binary.BigEndian.PutUint16(dst[pos:], uint16(len(msg.Key)))
	pos += 2
	pos += copy(dst[pos:], msg.Key)

	binary.BigEndian.PutUint32(dst[pos:], uint32(len(payload)))
	pos += 4
	copy(dst[pos:], payload)

	binary.BigEndian.PutUint32(dst[8:12], util.Checksum(dst[checksumFrom:]))
}

// PeekSize reads the size and magic of the record at the start of buf.
func PeekSize(buf []byte) (int, uint32, error) {
	if len(buf) < 8 {
		if allZero(buf) {
			return 0, 0, ErrEndOfData
		}
		return 0, 0, ErrShortBuffer
	}
	size := int(binary.BigEndian.Uint32(buf[0:4]))
	magic := binary.BigEndian.Uint32(buf[4:8])
	if size == 0 && magic == 0 {
		return 0, 0, ErrEndOfData
	}
	switch magic {
	case BlankMagic:
		if size < BlankMinSize {
			return size, magic, ErrCorrupt
		}
		return size, magic, ErrBlank
	case MessageMagic:
		if size < headerSize {
			return size, magic, ErrCorrupt
		}
		return size, magic, nil
	default:
		return size, magic, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
}

// DecodeRecord decodes the record at the start of buf and returns it with its
// encoded size. ErrBlank is returned with the marker's size so callers can
// skip it.
func DecodeRecord(buf []byte) (*types.Message, int, error) {
	size, _, err := PeekSize(buf)
	if err != nil {
		return nil, size, err
	}
	if size > len(buf) {
		return nil, size, ErrShortBuffer
	}
	rec := buf[:size]

	if binary.BigEndian.Uint32(rec[8:12]) != util.Checksum(rec[checksumFrom:]) {
		return nil, size, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	msg := &types.Message{}
	pos := checksumFrom
	msg.StoreTimestamp = time.UnixMilli(int64(binary.BigEndian.Uint64(rec[pos:])))
	pos += 8
	msg.Offset = binary.BigEndian.Uint64(rec[pos:])
	pos += 8
	msg.SeqNum = binary.BigEndian.Uint64(rec[pos:])
	pos += 8
	msg.Epoch = int64(binary.BigEndian.Uint64(rec[pos:]))
	pos += 8
	compression := rec[pos]
	pos++

	field := func(n int) ([]byte, bool) {
		if pos+n > len(rec) {
			return nil, false
		}
		b := rec[pos : pos+n]
		pos += n
		return b, true
	}

	pidLen := int(binary.BigEndian.Uint16(rec[pos:]))
	pos += 2
	pid, ok := field(pidLen)
	if !ok || pos+2 > len(rec) {
		return nil, size, fmt.Errorf("%w: producer id overruns record", ErrCorrupt)
	}
	msg.ProducerID = string(pid)

	keyLen := int(binary.BigEndian.Uint16(rec[pos:]))
	pos += 2
	key, ok := field(keyLen)
	if !ok || pos+4 > len(rec) {
		return nil, size, fmt.Errorf("%w: key overruns record", ErrCorrupt)
	}
	msg.Key = string(key)

	payloadLen := int(binary.BigEndian.Uint32(rec[pos:]))
	pos += 4
	payload, ok := field(payloadLen)
	if !ok || pos != len(rec) {
		return nil, size, fmt.Errorf("%w: payload length %d does not match record", ErrCorrupt, payloadLen)
	}

	plain, err := util.DecompressMessage(payload, util.CompressionName(compression))
	if err != nil {
		return nil, size, fmt.Errorf("%w: decompress: %w", ErrCorrupt, err)
	}
	msg.Payload = string(plain)
	return msg, size, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func fitsUint16(n int) bool {
	return n <= math.MaxUint16
}
