package disk

import (
	"errors"
	"fmt"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/cursus-store/pkg/codec"
	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

// RecordVisitor receives each valid record found by WalkSegment along with
// its position in the segment. Returning false stops the walk.
type RecordVisitor func(pos int, size int, msg *types.Message) bool

// WalkSegment reads the segment file at path through a read-only mapping and
// visits every valid record. It returns the position just past the last valid
// record; a blank marker counts as filling the segment. A corrupt or torn
// record ends the walk without error.
func WalkSegment(path string, visit RecordVisitor) (int, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return 0, fmt.Errorf("mmap open %s: %w", path, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			util.Error("failed to close reader for %s: %v", path, err)
		}
	}()

	end := r.Len()
	hdr := make([]byte, codec.BlankMinSize)
	pos := 0
	for pos+codec.BlankMinSize <= end {
		if _, err := r.ReadAt(hdr, int64(pos)); err != nil {
			return pos, fmt.Errorf("read header at %d in %s: %w", pos, path, err)
		}

		size, _, err := codec.PeekSize(hdr)
		switch {
		case errors.Is(err, codec.ErrEndOfData):
			return pos, nil
		case errors.Is(err, codec.ErrBlank):
			if pos+size != end {
				util.Warn("scan %s: blank marker at %d does not reach end of segment", path, pos)
				return pos, nil
			}
			return end, nil
		case err != nil:
			util.Warn("scan %s: stop at %d: %v", path, pos, err)
			return pos, nil
		}
		if pos+size > end {
			util.Warn("scan %s: record at %d overruns segment (%d bytes)", path, pos, size)
			return pos, nil
		}

		rec := make([]byte, size)
		if _, err := r.ReadAt(rec, int64(pos)); err != nil {
			return pos, fmt.Errorf("read record at %d in %s: %w", pos, path, err)
		}
		msg, _, err := codec.DecodeRecord(rec)
		if err != nil {
			util.Warn("scan %s: torn record at %d: %v", path, pos, err)
			return pos, nil
		}
		if visit != nil && !visit(pos, size, msg) {
			return pos + size, nil
		}
		pos += size
	}
	return pos, nil
}

// ScanSegment returns the write position of a segment file found on disk.
func ScanSegment(path string) (int, error) {
	return WalkSegment(path, nil)
}
