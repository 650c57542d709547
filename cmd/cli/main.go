package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/cursus-store/pkg/config"
	"github.com/downfa11-org/cursus-store/pkg/controller"
	"github.com/downfa11-org/cursus-store/pkg/disk"
	"github.com/downfa11-org/cursus-store/pkg/offset"
	"github.com/downfa11-org/cursus-store/pkg/server"
	"github.com/downfa11-org/cursus-store/pkg/topic"
)

const offsetsFile = "__consumer_offsets.yaml"

func main() {
	addr := flag.String("addr", "", "Broker address; when set, commands are sent over TCP instead of opening the log directory")
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		os.Exit(runRemote(*addr, cfg.MaxMessageSize))
	}

	dm := disk.NewDiskManager(cfg)
	tm := topic.NewTopicManager(dm, 0)
	om := offset.NewOffsetManager()
	offsetsPath := filepath.Join(cfg.LogDir, offsetsFile)
	if err := om.Load(offsetsPath); err != nil {
		fmt.Println("⚠️ Ignoring consumer offsets:", err)
	}
	ch := controller.NewCommandHandler(dm, tm, om, cfg)

	fmt.Printf("🔹 Store ready at %s. Type HELP for commands.\n", cfg.LogDir)
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), cfg.MaxMessageSize+1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "EXIT") {
			break
		}
		fmt.Println(ch.HandleCommand(line))
	}

	tm.Stop()
	exit := 0
	if err := om.Save(offsetsPath); err != nil {
		fmt.Println("❌ Failed to save consumer offsets:", err)
		exit = 1
	}
	if err := dm.CloseAllHandlers(); err != nil {
		fmt.Println("❌ Close failed:", err)
		exit = 1
	}
	os.Exit(exit)
}

func runRemote(addr string, maxLine int) int {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Println("❌ Failed to connect:", err)
		return 1
	}
	defer conn.Close()

	fmt.Printf("🔹 Connected to %s. Type HELP for commands.\n", addr)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLine+1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp, err := server.SendCommand(conn, line)
		if err != nil {
			fmt.Println("❌ Connection lost:", err)
			return 1
		}
		fmt.Println(resp)
		if strings.EqualFold(line, "EXIT") {
			break
		}
	}
	return 0
}
