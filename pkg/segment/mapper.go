package segment

import (
	"os"

	"github.com/downfa11-org/cursus-store/pkg/mmap"
)

// mapper is the set of platform calls a segment needs.
type mapper interface {
	Map(f *os.File, size int) ([]byte, error)
	Unmap(data []byte) error
	Sync(f *os.File, data []byte) error
	Advise(data []byte, pattern mmap.AccessPattern) error
}

type osMapper struct{}

func (osMapper) Map(f *os.File, size int) ([]byte, error) { return mmap.Map(f, size) }
func (osMapper) Unmap(data []byte) error                  { return mmap.Unmap(data) }
func (osMapper) Sync(f *os.File, data []byte) error       { return mmap.Sync(f, data) }

func (osMapper) Advise(data []byte, pattern mmap.AccessPattern) error {
	return mmap.Advise(data, pattern)
}

var defaultMapper mapper = osMapper{}
