package topic

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/downfa11-org/cursus-store/pkg/disk"
	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

var (
	ErrTopicNotFound = errors.New("topic not found")
	// ErrDuplicate is returned when a producer resends a sequence number inside the dedup window.
	ErrDuplicate = errors.New("duplicate message")
)

// HandlerProvider defines an interface to provide disk handlers.
type HandlerProvider interface {
	GetHandler(topic string, partitionID int) (*disk.DiskHandler, error)
}

type TopicManager struct {
	mu     sync.RWMutex
	topics map[string]*Topic
	hp     HandlerProvider

	dedupMap    sync.Map // "topic-producer-seq" -> time.Time
	dedupWindow time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewTopicManager creates a manager. Messages carrying a producer id and a
// non-zero sequence number are deduplicated for dedupWindow; zero disables it.
func NewTopicManager(hp HandlerProvider, dedupWindow time.Duration) *TopicManager {
	tm := &TopicManager{
		topics:      make(map[string]*Topic),
		hp:          hp,
		dedupWindow: dedupWindow,
		stopCh:      make(chan struct{}),
	}
	if dedupWindow > 0 {
		go tm.cleanupLoop()
	}
	return tm
}

// CreateTopic creates a topic or grows an existing one. Partition counts never shrink.
func (tm *TopicManager) CreateTopic(name string, partitionCount int) (*Topic, error) {
	if partitionCount <= 0 {
		return nil, fmt.Errorf("invalid partition count %d", partitionCount)
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if existing, ok := tm.topics[name]; ok {
		current := len(existing.Partitions)
		switch {
		case partitionCount < current:
			util.Warn("cannot decrease partitions for topic '%s' (%d → %d)", name, current, partitionCount)
		case partitionCount > current:
			if err := existing.addPartitions(partitionCount-current, tm.hp); err != nil {
				return existing, err
			}
			util.Info("topic '%s' partitions increased: %d → %d", name, current, partitionCount)
		}
		return existing, nil
	}

	t, err := NewTopic(name, partitionCount, tm.hp)
	if err != nil {
		return nil, err
	}
	tm.topics[name] = t
	util.Info("topic '%s' created with %d partitions", name, partitionCount)
	return t, nil
}

func (tm *TopicManager) GetTopic(name string) *Topic {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.topics[name]
}

func (tm *TopicManager) ListTopics() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, 0, len(tm.topics))
	for name := range tm.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish routes msg to a partition of topicName and appends it.
func (tm *TopicManager) Publish(topicName string, msg *types.Message) (int, types.AppendResult, error) {
	t := tm.GetTopic(topicName)
	if t == nil {
		return -1, types.AppendResult{}, fmt.Errorf("%w: %s", ErrTopicNotFound, topicName)
	}

	var dedupKey string
	if tm.dedupWindow > 0 && msg.ProducerID != "" && msg.SeqNum > 0 {
		dedupKey = fmt.Sprintf("%s-%s-%d", topicName, msg.ProducerID, msg.SeqNum)
		if _, loaded := tm.dedupMap.LoadOrStore(dedupKey, time.Now()); loaded {
			util.Info("Duplicate message detected: ProducerID=%s, SeqNum=%d", msg.ProducerID, msg.SeqNum)
			return -1, types.AppendResult{}, ErrDuplicate
		}
	}

	p, res, err := t.Publish(msg)
	if err != nil && dedupKey != "" {
		tm.dedupMap.Delete(dedupKey)
	}
	return p, res, err
}

// CleanupDedup forgets dedup entries older than the window and returns how many were removed.
func (tm *TopicManager) CleanupDedup(now time.Time) int {
	removed := 0
	tm.dedupMap.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) > tm.dedupWindow {
			tm.dedupMap.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func (tm *TopicManager) cleanupLoop() {
	ticker := time.NewTicker(tm.dedupWindow)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := tm.CleanupDedup(now); n > 0 {
				util.Debug("dedup cleanup removed %d entries", n)
			}
		case <-tm.stopCh:
			return
		}
	}
}

// Stop ends the dedup cleanup loop. The partition logs stay open.
func (tm *TopicManager) Stop() {
	tm.stopOnce.Do(func() { close(tm.stopCh) })
}
