package topic

import (
	"fmt"
	"sync/atomic"

	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

// Topic is a named set of partition logs.
type Topic struct {
	Name       string
	Partitions []types.StorageHandler
	counter    atomic.Uint64
}

// NewTopic opens the log of every partition through hp.
func NewTopic(name string, partitionCount int, hp HandlerProvider) (*Topic, error) {
	t := &Topic{Name: name}
	if err := t.addPartitions(partitionCount, hp); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topic) addPartitions(n int, hp HandlerProvider) error {
	start := len(t.Partitions)
	for i := start; i < start+n; i++ {
		dh, err := hp.GetHandler(t.Name, i)
		if err != nil {
			return fmt.Errorf("open handler for %s[%d]: %w", t.Name, i, err)
		}
		t.Partitions = append(t.Partitions, dh)
	}
	return nil
}

// PartitionFor picks the partition of a message: by key hash when a key is
// set, round robin otherwise.
func (t *Topic) PartitionFor(msg *types.Message) int {
	n := len(t.Partitions)
	if msg.Key != "" {
		return util.Hash(msg.Key) % n
	}
	return int(t.counter.Add(1)-1) % n
}

// Publish appends msg to its partition and returns the partition used.
func (t *Topic) Publish(msg *types.Message) (int, types.AppendResult, error) {
	p := t.PartitionFor(msg)
	res, err := t.Partitions[p].AppendMessage(msg)
	return p, res, err
}
