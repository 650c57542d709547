package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/cursus-store/util"
)

const (
	maxWorkers  = 256
	idleTimeout = 5 * time.Minute
	// maxFrameSize bounds a single command frame.
	maxFrameSize = 64 << 20
)

var ErrFrameTooLarge = errors.New("server: frame too large")

// CommandExecutor runs one text command and returns its response.
type CommandExecutor interface {
	HandleCommand(cmd string) string
}

// RunServer accepts connections on ln until ctx is cancelled. Each frame is a
// big-endian u32 length followed by a command; responses are framed the same
// way.
func RunServer(ctx context.Context, ln net.Listener, exec CommandExecutor) error {
	util.Info("🧩 Store listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			util.Warn("Accept error: %v", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			HandleConnection(ctx, conn, exec)
		}()
	}
}

// HandleConnection processes a single client connection
func HandleConnection(ctx context.Context, conn net.Conn, exec CommandExecutor) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		data, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				util.Warn("Read frame error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		cmd := strings.TrimSpace(string(data))
		if strings.EqualFold(cmd, "EXIT") {
			_ = WriteFrame(conn, []byte("BYE"))
			return
		}
		if err := WriteFrame(conn, []byte(exec.HandleCommand(cmd))); err != nil {
			util.Warn("Write response to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes data as one length-prefixed frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// SendCommand writes cmd to conn and waits for the response.
func SendCommand(conn net.Conn, cmd string) (string, error) {
	if err := WriteFrame(conn, []byte(cmd)); err != nil {
		return "", err
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}
