package bench_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/cursus-store/pkg/bench"
	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/disk"
)

func TestBenchmarkRunner_Run(t *testing.T) {
	cfg := &config.Config{LogDir: t.TempDir(), SegmentSize: 8192}
	cfg.Normalize()
	dm := disk.NewDiskManager(cfg)
	t.Cleanup(func() { _ = dm.CloseAllHandlers() })

	runner := bench.NewBenchmarkRunner(dm, "bench", 3, 4, 50, 128)
	res, err := runner.Run()
	require.NoError(t, err)

	assert.EqualValues(t, 200, res.Written)
	assert.Zero(t, res.Failed)
	assert.EqualValues(t, 200, res.Read)
	assert.Contains(t, runner.Report(res), "Written       : 200")
}
