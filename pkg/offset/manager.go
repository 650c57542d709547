package offset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNoOffset = errors.New("no offset found")

// OffsetManager tracks the next read position of consumer groups per topic
// partition. Positions are commit log offsets as returned by ReadMessages.
type OffsetManager struct {
	mu      sync.RWMutex
	offsets map[string]map[string]map[int]uint64 // groupID -> topic -> partition -> offset
}

func NewOffsetManager() *OffsetManager {
	return &OffsetManager{
		offsets: make(map[string]map[string]map[int]uint64),
	}
}

func (om *OffsetManager) GetOffset(groupID, topic string, partition int) (uint64, error) {
	om.mu.RLock()
	defer om.mu.RUnlock()

	if topics, ok := om.offsets[groupID]; ok {
		if partitions, ok := topics[topic]; ok {
			if offset, ok := partitions[partition]; ok {
				return offset, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s %s[%d]", ErrNoOffset, groupID, topic, partition)
}

func (om *OffsetManager) CommitOffset(groupID, topic string, partition int, offset uint64) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if _, ok := om.offsets[groupID]; !ok {
		om.offsets[groupID] = make(map[string]map[int]uint64)
	}
	if _, ok := om.offsets[groupID][topic]; !ok {
		om.offsets[groupID][topic] = make(map[int]uint64)
	}
	om.offsets[groupID][topic][partition] = offset
}

// Save writes all committed offsets to path as YAML, replacing the file atomically.
func (om *OffsetManager) Save(path string) error {
	om.mu.RLock()
	data, err := yaml.Marshal(om.offsets)
	om.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal offsets: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write offsets: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the in-memory offsets with the contents of path. A missing
// file leaves the manager empty.
func (om *OffsetManager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read offsets: %w", err)
	}

	offsets := make(map[string]map[string]map[int]uint64)
	if err := yaml.Unmarshal(data, &offsets); err != nil {
		return fmt.Errorf("parse offsets %s: %w", path, err)
	}

	om.mu.Lock()
	om.offsets = offsets
	om.mu.Unlock()
	return nil
}
