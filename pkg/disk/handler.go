package disk

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/downfa11-org/cursus-store/pkg/codec"
	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/metrics"
	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

var (
	ErrClosed             = errors.New("disk: handler closed")
	ErrMessageTooLarge    = errors.New("disk: message too large")
	ErrPropertiesTooLarge = errors.New("disk: producer id or key too large")
	ErrAppendFailed       = errors.New("disk: append failed")
)

// DiskHandler is the commit log of one topic partition: a SegmentQueue with a
// single serialized writer, a background flusher and a retention sweeper.
type DiskHandler struct {
	Topic       string
	PartitionID int

	cfg     *config.Config
	queue   *SegmentQueue
	encoder *codec.MessageEncoder
	policy  segment.FlushPolicy
	grace   time.Duration
	limiter *rate.Limiter

	mu     sync.Mutex // serializes appends
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	shutdown  sync.WaitGroup
}

// PartitionDir is the directory holding the segments of a topic partition.
func PartitionDir(logDir, topic string, partitionID int) string {
	return filepath.Join(logDir, topic, fmt.Sprintf("partition_%d", partitionID))
}

func NewDiskHandler(cfg *config.Config, topicName string, partitionID int) (*DiskHandler, error) {
	encoder, err := codec.NewMessageEncoder(cfg.SegmentSize, cfg.MaxMessageSize, cfg.CompressionType)
	if err != nil {
		return nil, err
	}

	policy := cfg.FlushPolicy()
	queue := NewSegmentQueue(PartitionDir(cfg.LogDir, topicName, partitionID), cfg.SegmentSize, WarmOptions{
		Enabled:       cfg.WarmMappedFile,
		Policy:        policy,
		PagesPerFlush: cfg.WarmupFlushPages,
	})
	if err := queue.Load(); err != nil {
		queue.Close(0)
		return nil, fmt.Errorf("load %s-%d: %w", topicName, partitionID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dh := &DiskHandler{
		Topic:       topicName,
		PartitionID: partitionID,
		cfg:         cfg,
		queue:       queue,
		encoder:     encoder,
		policy:      policy,
		grace:       time.Duration(cfg.DestroyGraceMS) * time.Millisecond,
		limiter:     rate.NewLimiter(rate.Limit(cfg.DeleteFilesPerSecond), 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	dh.shutdown.Add(2)
	go func() {
		defer dh.shutdown.Done()
		dh.flushLoop()
	}()
	go func() {
		defer dh.shutdown.Done()
		dh.retentionLoop()
	}()

	return dh, nil
}

// Queue exposes the underlying segment queue.
func (d *DiskHandler) Queue() *SegmentQueue {
	return d.queue
}

// AppendMessage stores msg at the end of the log. With the sync flush policy
// the record is on disk when AppendMessage returns.
func (d *DiskHandler) AppendMessage(msg *types.Message) (types.AppendResult, error) {
	if d.policy == segment.FlushSync {
		return d.AppendMessageSync(msg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendLocked(msg)
}

// AppendMessageSync stores msg and commits the log up to and including it
// before returning.
func (d *DiskHandler) AppendMessageSync(msg *types.Message) (types.AppendResult, error) {
	d.mu.Lock()
	res, err := d.appendLocked(msg)
	d.mu.Unlock()
	if err != nil {
		return res, err
	}

	target := int64(res.Offset) + int64(res.Size)
	d.commitUntil(target)
	if d.queue.CommittedWhere() < target {
		return res, fmt.Errorf("%w: commit stopped at %d before %d", ErrAppendFailed, d.queue.CommittedWhere(), target)
	}
	return res, nil
}

// WriteBatch appends every message under one lock acquisition. It stops at
// the first failure and returns the results stored so far.
func (d *DiskHandler) WriteBatch(batch []*types.Message) ([]types.AppendResult, error) {
	d.mu.Lock()
	results := make([]types.AppendResult, 0, len(batch))
	var err error
	for _, msg := range batch {
		var res types.AppendResult
		if res, err = d.appendLocked(msg); err != nil {
			break
		}
		results = append(results, res)
	}
	d.mu.Unlock()

	if d.policy == segment.FlushSync && len(results) > 0 {
		last := results[len(results)-1]
		d.commitUntil(int64(last.Offset) + int64(last.Size))
	}
	return results, err
}

func (d *DiskHandler) appendLocked(msg *types.Message) (types.AppendResult, error) {
	if d.closed {
		return types.AppendResult{}, ErrClosed
	}

	// a fresh segment always fits a record the encoder accepts, so at most
	// one roll over happens per message
	for attempt := 0; attempt < 2; attempt++ {
		f, err := d.queue.LastSegment(0, true)
		if err != nil {
			return types.AppendResult{}, fmt.Errorf("%w: %w", ErrAppendFailed, err)
		}

		res := f.Append(msg, d.encoder)
		switch res.Status {
		case segment.AppendOK:
			metrics.RecordAppend(res.WroteBytes)
			return types.AppendResult{
				Offset:      uint64(res.WroteOffset),
				Size:        res.WroteBytes,
				MsgID:       res.MsgID,
				StoredAt:    res.StoreTimestamp,
				SegmentBase: uint64(f.FromOffset()),
			}, nil
		case segment.AppendOverflow:
			metrics.SegmentsRolled.Inc()
			util.Debug("%s-%d: segment %s full, rolling over", d.Topic, d.PartitionID, f.FileName())
			continue
		case segment.AppendMessageSizeExceeded:
			metrics.RecordAppendFailure(res.Status)
			return types.AppendResult{}, ErrMessageTooLarge
		case segment.AppendPropertiesSizeExceeded:
			metrics.RecordAppendFailure(res.Status)
			return types.AppendResult{}, ErrPropertiesTooLarge
		default:
			metrics.RecordAppendFailure(res.Status)
			return types.AppendResult{}, fmt.Errorf("%w: %s", ErrAppendFailed, res.Status)
		}
	}
	metrics.RecordAppendFailure(segment.AppendOverflow)
	return types.AppendResult{}, fmt.Errorf("%w: record does not fit an empty segment", ErrAppendFailed)
}

// ReadMessages returns up to max messages starting at offset, which must be
// the offset of a record (or of the end of the log). Offsets that have been
// removed by retention resume at the oldest remaining segment. The second
// result is the offset to continue reading from.
func (d *DiskHandler) ReadMessages(offset uint64, max int) ([]types.Message, uint64, error) {
	pos := int64(offset)
	if first := d.queue.MinOffset(); first > pos {
		pos = first
	}

	var out []types.Message
	for len(out) < max {
		f := d.queue.FindSegment(pos)
		if f == nil {
			break
		}

		view, err := f.SelectBufferFrom(int(pos - f.FromOffset()))
		if errors.Is(err, segment.ErrOutOfRange) {
			break
		}
		if err != nil {
			if errors.Is(err, segment.ErrHoldFailed) {
				metrics.ReadHoldFailures.Inc()
			}
			return out, uint64(pos), err
		}

		next, more, err := decodeView(view.Bytes(), max-len(out), &out)
		view.Release()
		pos += int64(next)
		if err != nil {
			return out, uint64(pos), err
		}
		if !more {
			break
		}
		if next == 0 {
			// blank marker: continue in the next segment
			pos = f.FromOffset() + int64(f.Capacity())
		}
	}
	return out, uint64(pos), nil
}

// decodeView appends up to max records from buf to out. It returns the number
// of bytes consumed and whether reading should continue in the next segment.
// A blank marker is reported as zero bytes consumed and more set.
func decodeView(buf []byte, max int, out *[]types.Message) (int, bool, error) {
	consumed := 0
	for n := 0; n < max; n++ {
		msg, size, err := codec.DecodeRecord(buf[consumed:])
		switch {
		case err == nil:
			*out = append(*out, *msg)
			consumed += size
		case errors.Is(err, codec.ErrBlank):
			if consumed == 0 {
				return 0, true, nil
			}
			return consumed, true, nil
		case errors.Is(err, codec.ErrEndOfData), errors.Is(err, codec.ErrShortBuffer):
			return consumed, false, nil
		default:
			return consumed, false, err
		}
	}
	return consumed, false, nil
}

// Flush commits every written byte of the log.
func (d *DiskHandler) Flush() {
	d.commitUntil(d.queue.MaxOffset())
}

// commitUntil commits with no page threshold until target is on disk or no
// more progress can be made.
func (d *DiskHandler) commitUntil(target int64) {
	for d.queue.CommittedWhere() < target {
		if !d.commit(0) {
			return
		}
	}
}

func (d *DiskHandler) commit(flushLeastPages int) bool {
	start := time.Now()
	flushed := d.queue.Commit(flushLeastPages)
	metrics.RecordCommit(time.Since(start), flushed)
	return flushed
}

func (d *DiskHandler) GetLatestOffset() uint64 {
	return uint64(d.queue.MaxOffset())
}

func (d *DiskHandler) GetCommittedOffset() uint64 {
	return uint64(d.queue.CommittedWhere())
}

func (d *DiskHandler) GetSegmentPath(baseOffset uint64) string {
	return filepath.Join(d.queue.Dir(), segment.FileNameFor(int64(baseOffset)))
}

// Close stops the background loops, commits everything written and releases
// the segments.
func (d *DiskHandler) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		d.cancel()
		d.shutdown.Wait()

		d.Flush()
		if d.queue.CommittedWhere() < d.queue.MaxOffset() {
			err = fmt.Errorf("%s-%d: commit stopped at %d of %d", d.Topic, d.PartitionID, d.queue.CommittedWhere(), d.queue.MaxOffset())
		}
		if !d.queue.Close(d.grace) {
			util.Warn("%s-%d: segments still in use at close", d.Topic, d.PartitionID)
		}
	})
	return err
}

var _ types.StorageHandler = (*DiskHandler)(nil)
