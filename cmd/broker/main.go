package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/controller"
	"github.com/downfa11-org/cursus-store/pkg/disk"
	"github.com/downfa11-org/cursus-store/pkg/metrics"
	"github.com/downfa11-org/cursus-store/pkg/offset"
	"github.com/downfa11-org/cursus-store/pkg/server"
	"github.com/downfa11-org/cursus-store/pkg/topic"
	"github.com/downfa11-org/cursus-store/util"
)

const offsetsFile = "__consumer_offsets.yaml"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		util.Fatal("❌ Failed to load config: %v", err)
	}

	util.Info("🚀 Starting store in %s (segment %d bytes, %s flush)", cfg.LogDir, cfg.SegmentSize, cfg.FlushDiskType)
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	} else {
		util.Info("📉 Exporter disabled")
	}

	dm := disk.NewDiskManager(cfg)
	n, err := dm.OpenAll()
	if err != nil {
		util.Fatal("❌ Failed to open logs: %v", err)
	}
	util.Info("opened %d partition log(s)", n)

	tm := topic.NewTopicManager(dm, 0)
	om := offset.NewOffsetManager()
	offsetsPath := filepath.Join(cfg.LogDir, offsetsFile)
	if err := om.Load(offsetsPath); err != nil {
		util.Warn("ignoring consumer offsets: %v", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.BrokerPort))
	if err != nil {
		util.Fatal("❌ Failed to listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := controller.NewCommandHandler(dm, tm, om, cfg)
	if err := server.RunServer(ctx, ln, exec); err != nil {
		util.Error("❌ Server failed: %v", err)
	}
	util.Info("shutting down")

	tm.Stop()
	exit := 0
	if err := om.Save(offsetsPath); err != nil {
		util.Error("save consumer offsets: %v", err)
		exit = 1
	}
	if err := dm.CloseAllHandlers(); err != nil {
		util.Error("close failed: %v", err)
		exit = 1
	}
	os.Exit(exit)
}
