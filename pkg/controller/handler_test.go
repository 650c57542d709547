package controller_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/controller"
	"github.com/downfa11-org/cursus-store/pkg/disk"
	"github.com/downfa11-org/cursus-store/pkg/offset"
	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/pkg/topic"
)

func newHandler(t *testing.T) *controller.CommandHandler {
	t.Helper()
	cfg := &config.Config{LogDir: t.TempDir(), SegmentSize: 8192, FlushIntervalMS: 3600000}
	cfg.Normalize()
	dm := disk.NewDiskManager(cfg)
	tm := topic.NewTopicManager(dm, 0)
	t.Cleanup(func() { _ = dm.CloseAllHandlers() })
	return controller.NewCommandHandler(dm, tm, offset.NewOffsetManager(), cfg)
}

func TestHandleCommand_AppendRead(t *testing.T) {
	ch := newHandler(t)

	resp := ch.HandleCommand("APPEND topic=orders partition=0 producerId=p1 seqNum=7 message=hello world")
	require.True(t, strings.HasPrefix(resp, "OK offset=0 "), resp)
	resp = ch.HandleCommand("append topic=orders partition=0 message=second")
	require.True(t, strings.HasPrefix(resp, "OK "), resp)

	resp = ch.HandleCommand("READ topic=orders partition=0 offset=0")
	lines := strings.Split(resp, "\n")
	require.Len(t, lines, 3, resp)
	assert.Equal(t, "0\tp1\t7\thello world", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "\tsecond"))
	assert.True(t, strings.HasSuffix(lines[2], "count=2"))

	resp = ch.HandleCommand("READ topic=orders partition=0 offset=0 max=1")
	assert.Contains(t, resp, "count=1")
}

func TestHandleCommand_Errors(t *testing.T) {
	ch := newHandler(t)

	tests := []struct {
		cmd  string
		want string
	}{
		{"", "ERROR: empty command"},
		{"BOGUS", "ERROR: unknown command"},
		{"APPEND partition=0 message=x", "ERROR: missing topic"},
		{"APPEND topic=a partition=-1 message=x", "ERROR: partition"},
		{"APPEND topic=a partition=0", "ERROR: missing message"},
		{"APPEND topic=a partition=0 seqNum=x message=m", "ERROR: seqNum"},
		{"READ topic=a partition=0 offset=abc", "ERROR: offset"},
		{"READ topic=a partition=0 offset=0 max=0", "ERROR: max"},
		{"DUMP", "ERROR: missing path"},
		{"CREATE partitions=2", "ERROR: missing topic"},
		{"CREATE topic=x partitions=0", "ERROR: partitions"},
		{"PUBLISH topic=nope message=x", "ERROR: publish failed"},
		{"CONSUME topic=a partition=0", "ERROR: missing group"},
		{"DUMP path=/nonexistent/segment", "ERROR: dump failed"},
		{"RESTORE topic=a partition=0", "ERROR: missing path"},
		{"RESTORE topic=a partition=0 path=/nonexistent/00000000000000000000", "ERROR: restore failed"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(ch.HandleCommand(tt.cmd), tt.want))
		})
	}
}

func TestHandleCommand_StatsSegmentsDump(t *testing.T) {
	ch := newHandler(t)
	require.True(t, strings.HasPrefix(ch.HandleCommand("APPEND topic=logs partition=2 message=abc"), "OK"))

	assert.Equal(t, "OK", ch.HandleCommand("FLUSH"))

	stats := ch.HandleCommand("STATS")
	assert.Contains(t, stats, "mapped_files=")
	assert.Contains(t, stats, "logs_2 latest=")
	assert.Contains(t, stats, "segments=1")

	segs := ch.HandleCommand("SEGMENTS topic=logs partition=2")
	assert.Contains(t, segs, segment.FileNameFor(0))
	assert.Contains(t, segs, "full=false")

	path := strings.Fields(segs)[0]
	dump := ch.HandleCommand("DUMP path=" + path)
	assert.Contains(t, dump, "\tabc\n")
	assert.Contains(t, dump, "records=1")

	assert.Equal(t, "removed 0 segment(s)", ch.HandleCommand("RETENTION"))
	assert.Contains(t, ch.HandleCommand("HELP"), "APPEND topic=")
}

func TestHandleCommand_Restore(t *testing.T) {
	src := newHandler(t)
	dst := newHandler(t)

	require.True(t, strings.HasPrefix(src.HandleCommand("APPEND topic=logs partition=0 message=one"), "OK"))
	require.True(t, strings.HasPrefix(src.HandleCommand("APPEND topic=logs partition=0 message=two"), "OK"))
	require.Equal(t, "OK", src.HandleCommand("FLUSH"))
	path := strings.Fields(src.HandleCommand("SEGMENTS topic=logs partition=0"))[0]

	resp := dst.HandleCommand("RESTORE topic=logs partition=0 path=" + path)
	require.True(t, strings.HasPrefix(resp, "OK restored="), resp)

	read := dst.HandleCommand("READ topic=logs partition=0 offset=0")
	assert.Contains(t, read, "\tone\n")
	assert.Contains(t, read, "count=2")
	_, end, _ := strings.Cut(resp, " end=")
	assert.Equal(t, "OK restored=0 end="+end, dst.HandleCommand("RESTORE topic=logs partition=0 path="+path))
}

func TestHandleCommand_TopicsAndGroups(t *testing.T) {
	ch := newHandler(t)

	assert.Equal(t, "(no topics)", ch.HandleCommand("LIST"))
	assert.Equal(t, "OK topic=orders partitions=2", ch.HandleCommand("CREATE topic=orders partitions=2"))
	assert.Equal(t, "orders", ch.HandleCommand("LIST"))

	var partition string
	for i := 0; i < 3; i++ {
		resp := ch.HandleCommand("PUBLISH topic=orders key=acct-1 message=event")
		require.True(t, strings.HasPrefix(resp, "OK partition="), resp)
		p := strings.Fields(resp)[1]
		if partition == "" {
			partition = p
		}
		assert.Equal(t, partition, p)
	}
	id := strings.TrimPrefix(partition, "partition=")

	resp := ch.HandleCommand("CONSUME topic=orders partition=" + id + " group=g1 max=2")
	assert.Contains(t, resp, "count=2")
	resp = ch.HandleCommand("CONSUME topic=orders partition=" + id + " group=g1")
	assert.Contains(t, resp, "count=1")
	resp = ch.HandleCommand("CONSUME topic=orders partition=" + id + " group=g1")
	assert.Contains(t, resp, "count=0")

	resp = ch.HandleCommand("CONSUME topic=orders partition=" + id + " group=g2")
	assert.Contains(t, resp, "count=3")
}
