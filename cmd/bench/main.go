package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/downfa11-org/cursus-store/pkg/bench"
	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/disk"
)

func main() {
	topicName := flag.String("topic", "bench-topic", "topic name for benchmark")
	partitions := flag.Int("partitions", 12, "number of partitions")
	producers := flag.Int("producers", 12, "number of producers")
	messages := flag.Int("messages", 10000, "messages per producer")
	size := flag.Int("size", 256, "payload size in bytes")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}

	dm := disk.NewDiskManager(cfg)
	runner := bench.NewBenchmarkRunner(dm, *topicName, *partitions, *producers, *messages, *size)
	res, err := runner.Run()
	if err != nil {
		fmt.Println("❌ Benchmark failed:", err)
	}
	fmt.Print(runner.Report(res))

	if err := dm.CloseAllHandlers(); err != nil {
		fmt.Println("❌ Close failed:", err)
		os.Exit(1)
	}
}
