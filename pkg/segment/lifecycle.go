package segment

import (
	"os"
	"time"

	"github.com/downfa11-org/cursus-store/util"
)

// Destroy requests shutdown and, once cleanup has completed, closes and
// deletes the backing file. It never blocks: while holders remain it returns
// false and the caller retries later. After a successful destroy further calls
// return true without touching the file system.
func (f *File) Destroy(grace time.Duration) bool {
	f.Shutdown(grace)

	if !f.IsCleanupOver() {
		util.Warn("destroy segment[REF:%d] %s failed, cleanup not over", f.RefCount(), f.fileName)
		return false
	}

	if !f.deleted.CompareAndSwap(false, true) {
		return true
	}
	f.closeFile()

	begin := time.Now()
	err := os.Remove(f.fileName)
	if err != nil && !os.IsNotExist(err) {
		util.Warn("delete segment[REF:%d] %s failed: %v", f.RefCount(), f.fileName, err)
	} else {
		util.Info("delete segment[REF:%d] %s OK, W:%d M:%d, %s",
			f.RefCount(), f.fileName, f.WritePosition(), f.CommittedPosition(), time.Since(begin))
	}
	return true
}

// cleanup is the hook run by the last release after shutdown.
func (f *File) cleanup(currentRef int64) bool {
	if f.IsAvailable() {
		util.Error("segment[REF:%d] %s has not been shut down, refusing to unmap", currentRef, f.fileName)
		return false
	}

	if f.IsCleanupOver() {
		util.Error("segment[REF:%d] %s has already been cleaned up", currentRef, f.fileName)
		return true
	}

	if err := f.mapper.Unmap(f.data); err != nil {
		util.Error("unmap segment %s failed: %v", f.fileName, err)
	}
	totalMappedBytes.Add(-int64(f.capacity))
	totalMappedFiles.Add(-1)

	util.Info("unmap segment[REF:%d] %s OK", currentRef, f.fileName)
	return true
}

// Close unmaps the segment without deleting it, waiting up to grace for holders.
// It reports whether the mapping is gone.
func (f *File) Close(grace time.Duration) bool {
	f.Shutdown(grace)
	if !f.IsCleanupOver() {
		return false
	}
	f.closeFile()
	return true
}

func (f *File) closeFile() {
	if !f.fileClosed.CompareAndSwap(false, true) {
		return
	}
	if err := f.file.Close(); err != nil {
		util.Warn("close segment file %s failed: %v", f.fileName, err)
		return
	}
	util.Debug("close segment file %s OK", f.fileName)
}
