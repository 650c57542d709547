package segment

import "sync/atomic"

// Process-wide totals across every mapped segment.
var (
	totalMappedBytes atomic.Int64
	totalMappedFiles atomic.Int64
)

// ProcessStats is a snapshot of the process-wide mapping totals.
type ProcessStats struct {
	MappedBytes int64
	MappedFiles int64
}

func Stats() ProcessStats {
	return ProcessStats{
		MappedBytes: totalMappedBytes.Load(),
		MappedFiles: totalMappedFiles.Load(),
	}
}

// TotalMappedBytes is the virtual memory currently mapped by live segments.
func TotalMappedBytes() int64 {
	return totalMappedBytes.Load()
}

// TotalMappedFiles is the number of segments currently mapped.
func TotalMappedFiles() int64 {
	return totalMappedFiles.Load()
}
