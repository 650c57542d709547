package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/util"
)

type DiskManager struct {
	mu       sync.Mutex
	handlers map[string]*DiskHandler
	cfg      *config.Config
}

func NewDiskManager(cfg *config.Config) *DiskManager {
	return &DiskManager{
		handlers: make(map[string]*DiskHandler),
		cfg:      cfg,
	}
}

func handlerKey(topic string, partitionID int) string {
	return fmt.Sprintf("%s_%d", topic, partitionID)
}

// GetHandler returns the DiskHandler of a topic partition, opening it if needed.
func (dm *DiskManager) GetHandler(topic string, partitionID int) (*DiskHandler, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	key := handlerKey(topic, partitionID)
	if dh, ok := dm.handlers[key]; ok {
		return dh, nil
	}

	if err := os.MkdirAll(dm.cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dm.cfg.LogDir, err)
	}

	dh, err := NewDiskHandler(dm.cfg, topic, partitionID)
	if err != nil {
		return nil, err
	}

	dm.handlers[key] = dh
	return dh, nil
}

// OpenAll opens a handler for every <topic>/partition_<N> directory under
// LogDir so their flush and retention loops run. It returns the number of
// handlers opened.
func (dm *DiskManager) OpenAll() (int, error) {
	topics, err := os.ReadDir(dm.cfg.LogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	opened := 0
	for _, t := range topics {
		if !t.IsDir() {
			continue
		}
		parts, err := os.ReadDir(filepath.Join(dm.cfg.LogDir, t.Name()))
		if err != nil {
			return opened, err
		}
		for _, p := range parts {
			var id int
			if !p.IsDir() {
				continue
			}
			if _, err := fmt.Sscanf(p.Name(), "partition_%d", &id); err != nil {
				continue
			}
			if _, err := dm.GetHandler(t.Name(), id); err != nil {
				return opened, err
			}
			opened++
		}
	}
	return opened, nil
}

// Handlers returns the keys of the open handlers in sorted order.
func (dm *DiskManager) Handlers() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	keys := make([]string, 0, len(dm.handlers))
	for k := range dm.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (dm *DiskManager) snapshot() []*DiskHandler {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	out := make([]*DiskHandler, 0, len(dm.handlers))
	for _, dh := range dm.handlers {
		out = append(out, dh)
	}
	return out
}

// FlushAll commits every open handler.
func (dm *DiskManager) FlushAll() {
	for _, dh := range dm.snapshot() {
		dh.Flush()
	}
}

// EnforceRetention runs one retention pass over every handler.
func (dm *DiskManager) EnforceRetention(ctx context.Context) int {
	total := 0
	for _, dh := range dm.snapshot() {
		total += dh.EnforceRetention(ctx)
	}
	return total
}

// CloseAllHandlers closes every handler in parallel and returns the first error.
func (dm *DiskManager) CloseAllHandlers() error {
	dm.mu.Lock()
	handlers := dm.handlers
	dm.handlers = make(map[string]*DiskHandler)
	dm.mu.Unlock()

	var g errgroup.Group
	for name, dh := range handlers {
		name, dh := name, dh
		g.Go(func() error {
			util.Debug("Closing DiskHandler for %s", name)
			return dh.Close()
		})
	}
	return g.Wait()
}
