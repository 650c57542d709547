package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/disk"
	"github.com/downfa11-org/cursus-store/pkg/offset"
	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/pkg/topic"
	"github.com/downfa11-org/cursus-store/pkg/types"
	"github.com/downfa11-org/cursus-store/util"
)

const DefaultReadMax = 100

// CommandHandler executes the text commands of the store shell against a DiskManager.
type CommandHandler struct {
	DiskManager   *disk.DiskManager
	TopicManager  *topic.TopicManager
	OffsetManager *offset.OffsetManager
	Config        *config.Config
}

func NewCommandHandler(dm *disk.DiskManager, tm *topic.TopicManager, om *offset.OffsetManager, cfg *config.Config) *CommandHandler {
	return &CommandHandler{
		DiskManager:   dm,
		TopicManager:  tm,
		OffsetManager: om,
		Config:        cfg,
	}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand runs one command line and returns the text response.
func (ch *CommandHandler) HandleCommand(rawCmd string) string {
	cmd := strings.TrimSpace(rawCmd)
	if cmd == "" {
		return "ERROR: empty command"
	}

	name, rest, _ := strings.Cut(cmd, " ")
	var resp string
	switch strings.ToUpper(name) {
	case "HELP":
		resp = ch.handleHelp()
	case "CREATE":
		resp = ch.handleCreate(rest)
	case "LIST":
		resp = strings.Join(ch.TopicManager.ListTopics(), "\n")
		if resp == "" {
			resp = "(no topics)"
		}
	case "PUBLISH":
		resp = ch.handlePublish(rest)
	case "CONSUME":
		resp = ch.handleConsume(rest)
	case "APPEND":
		resp = ch.handleAppend(rest)
	case "READ":
		resp = ch.handleRead(rest)
	case "FLUSH":
		ch.DiskManager.FlushAll()
		resp = "OK"
	case "STATS":
		resp = ch.handleStats()
	case "SEGMENTS":
		resp = ch.handleSegments(rest)
	case "RETENTION":
		n := ch.DiskManager.EnforceRetention(context.Background())
		resp = fmt.Sprintf("removed %d segment(s)", n)
	case "DUMP":
		resp = ch.handleDump(rest)
	case "RESTORE":
		resp = ch.handleRestore(rest)
	default:
		resp = fmt.Sprintf("ERROR: unknown command %q, type HELP", name)
	}
	ch.logCommandResult(cmd, resp)
	return resp
}

func (ch *CommandHandler) handleHelp() string {
	return `Available commands:
CREATE topic=<name> [partitions=<N>] - create topic (default=4)
LIST - list all topics
PUBLISH topic=<name> [key=<k>] [producerId=<id>] [seqNum=<N>] message=<text> - publish to a partition chosen by key
CONSUME topic=<name> partition=<N> group=<name> [max=<N>] - read from the group's offset and commit the next one
APPEND topic=<name> partition=<N> [key=<k>] [producerId=<id>] [seqNum=<N>] message=<text> - append a message
READ topic=<name> partition=<N> offset=<N> [max=<N>] - read messages from an offset
FLUSH - commit every open log to disk
STATS - show mapped memory and per-log offsets
SEGMENTS topic=<name> partition=<N> - list the segments of a log
RETENTION - remove expired segments now
DUMP path=<segment file> - print the records of a segment file
RESTORE topic=<name> partition=<N> path=<segment file> - copy a backed-up segment into the log
HELP - show this help
EXIT - exit`
}

func (ch *CommandHandler) handleAppend(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	dh, errResp := ch.handlerFor(args)
	if errResp != "" {
		return errResp
	}
	msg, errResp := messageFromArgs(args)
	if errResp != "" {
		return errResp
	}

	res, err := dh.AppendMessage(msg)
	if err != nil {
		return fmt.Sprintf("ERROR: append failed: %v", err)
	}
	return fmt.Sprintf("OK offset=%d size=%d msgId=%s", res.Offset, res.Size, res.MsgID)
}

func (ch *CommandHandler) handleCreate(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	name := args["topic"]
	if name == "" {
		return "ERROR: missing topic parameter. Expected: CREATE topic=<name> [partitions=<N>]"
	}
	partitions := 4
	if s, ok := args["partitions"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return "ERROR: partitions must be a positive integer"
		}
		partitions = n
	}
	t, err := ch.TopicManager.CreateTopic(name, partitions)
	if err != nil {
		return fmt.Sprintf("ERROR: create topic: %v", err)
	}
	return fmt.Sprintf("OK topic=%s partitions=%d", t.Name, len(t.Partitions))
}

func (ch *CommandHandler) handlePublish(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	msg, errResp := messageFromArgs(args)
	if errResp != "" {
		return errResp
	}
	p, res, err := ch.TopicManager.Publish(args["topic"], msg)
	if err != nil {
		return fmt.Sprintf("ERROR: publish failed: %v", err)
	}
	return fmt.Sprintf("OK partition=%d offset=%d msgId=%s", p, res.Offset, res.MsgID)
}

func (ch *CommandHandler) handleConsume(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	group := args["group"]
	if group == "" {
		return "ERROR: missing group parameter"
	}
	dh, errResp := ch.handlerFor(args)
	if errResp != "" {
		return errResp
	}
	limit := DefaultReadMax
	if s, ok := args["max"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return "ERROR: max must be a positive integer"
		}
		limit = n
	}

	start, err := ch.OffsetManager.GetOffset(group, dh.Topic, dh.PartitionID)
	if err != nil {
		start = 0
	}
	msgs, next, err := dh.ReadMessages(start, limit)
	if err != nil {
		return fmt.Sprintf("ERROR: read failed: %v", err)
	}
	ch.OffsetManager.CommitOffset(group, dh.Topic, dh.PartitionID, next)
	return formatMessages(msgs, next)
}

func (ch *CommandHandler) handleRead(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	dh, errResp := ch.handlerFor(args)
	if errResp != "" {
		return errResp
	}

	offset, err := strconv.ParseUint(args["offset"], 10, 64)
	if err != nil {
		return "ERROR: offset must be a non-negative integer"
	}
	limit := DefaultReadMax
	if s, ok := args["max"]; ok {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			return "ERROR: max must be a positive integer"
		}
	}

	msgs, next, err := dh.ReadMessages(offset, limit)
	if err != nil {
		return fmt.Sprintf("ERROR: read failed: %v", err)
	}

	return formatMessages(msgs, next)
}

func formatMessages(msgs []types.Message, next uint64) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%d\t%s\t%d\t%s\n", m.Offset, m.ProducerID, m.SeqNum, m.Payload)
	}
	fmt.Fprintf(&b, "next=%d count=%d", next, len(msgs))
	return b.String()
}

func (ch *CommandHandler) handleStats() string {
	stats := segment.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "mapped_bytes=%d mapped_files=%d", stats.MappedBytes, stats.MappedFiles)
	for _, key := range ch.DiskManager.Handlers() {
		topic, partition, ok := splitHandlerKey(key)
		if !ok {
			continue
		}
		dh, err := ch.DiskManager.GetHandler(topic, partition)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s latest=%d committed=%d segments=%d",
			key, dh.GetLatestOffset(), dh.GetCommittedOffset(), dh.Queue().Len())
	}
	return b.String()
}

func (ch *CommandHandler) handleSegments(argsStr string) string {
	dh, errResp := ch.handlerFor(parseKeyValueArgs(argsStr))
	if errResp != "" {
		return errResp
	}
	segs := dh.Queue().Segments()
	if len(segs) == 0 {
		return "(no segments)"
	}
	lines := make([]string, 0, len(segs))
	for _, f := range segs {
		lines = append(lines, fmt.Sprintf("%s wrote=%d committed=%d full=%t refs=%d",
			f.FileName(), f.WritePosition(), f.CommittedPosition(), f.IsFull(), f.RefCount()))
	}
	return strings.Join(lines, "\n")
}

func (ch *CommandHandler) handleDump(argsStr string) string {
	path := parseKeyValueArgs(argsStr)["path"]
	if path == "" {
		return "ERROR: missing path parameter"
	}

	var b strings.Builder
	count := 0
	end, err := disk.WalkSegment(path, func(pos, size int, msg *types.Message) bool {
		fmt.Fprintf(&b, "%d\t%d\t%s\t%s\t%s\n", pos, size, msg.ProducerID, msg.StoreTimestamp.Format("2006-01-02T15:04:05.000"), msg.Payload)
		count++
		return true
	})
	if err != nil {
		return fmt.Sprintf("ERROR: dump failed: %v", err)
	}
	fmt.Fprintf(&b, "records=%d end=%d", count, end)
	return b.String()
}

func (ch *CommandHandler) handleRestore(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	path := args["path"]
	if path == "" {
		return "ERROR: missing path parameter"
	}
	dh, errResp := ch.handlerFor(args)
	if errResp != "" {
		return errResp
	}

	n, err := dh.RestoreSegment(path)
	if err != nil {
		return fmt.Sprintf("ERROR: restore failed: %v", err)
	}
	return fmt.Sprintf("OK restored=%d end=%d", n, dh.GetLatestOffset())
}

func messageFromArgs(args map[string]string) (*types.Message, string) {
	payload, ok := args["message"]
	if !ok {
		return nil, "ERROR: missing message parameter"
	}
	msg := &types.Message{
		ProducerID: args["producerId"],
		Key:        args["key"],
		Payload:    payload,
	}
	if s, ok := args["seqNum"]; ok {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, "ERROR: seqNum must be a non-negative integer"
		}
		msg.SeqNum = n
	}
	return msg, ""
}

func (ch *CommandHandler) handlerFor(args map[string]string) (*disk.DiskHandler, string) {
	topic := args["topic"]
	if topic == "" {
		return nil, "ERROR: missing topic parameter"
	}
	partition, err := strconv.Atoi(args["partition"])
	if err != nil || partition < 0 {
		return nil, "ERROR: partition must be a non-negative integer"
	}
	dh, err := ch.DiskManager.GetHandler(topic, partition)
	if err != nil {
		return nil, fmt.Sprintf("ERROR: open %s-%d: %v", topic, partition, err)
	}
	return dh, ""
}

func splitHandlerKey(key string) (string, int, bool) {
	i := strings.LastIndex(key, "_")
	if i < 0 {
		return "", 0, false
	}
	p, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:i], p, true
}

// parseKeyValueArgs splits "k=v k=v message=free text" into a map. Everything
// after message= is taken verbatim.
func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	if messageIdx := strings.Index(argsStr, "message="); messageIdx != -1 {
		result["message"] = strings.TrimSpace(argsStr[messageIdx+8:])
		argsStr = argsStr[:messageIdx]
	}
	for _, part := range strings.Fields(argsStr) {
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}
