package dirsvc

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Type: 7, Segments: []string{"alice", "1000", ""}}
	require.NoError(t, writeMessage(&buf, msg))

	got, err := readMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.Type)
	assert.Equal(t, []string{"alice", "1000"}, got.Segments)
}

func TestDialSocket_RespondsOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "responder.sock")

	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := readMessage(conn)
		if err != nil {
			return
		}
		_ = writeMessage(conn, Message{Type: req.Type + 1, Segments: []string{"ok"}})
	}()

	c := DialSocket(sockPath, time.Second)
	resp, err := c.RoundTrip(Message{Type: 1, Segments: []string{"ping"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), resp.Type)
	assert.Equal(t, []string{"ok"}, resp.Segments)
}

func TestDialSocket_UnreachableSocketErrors(t *testing.T) {
	c := DialSocket("/nonexistent/path.sock", 100*time.Millisecond)
	_, err := c.RoundTrip(Message{Type: 1})
	assert.Error(t, err)
}

func TestDialReplay_IgnoresRequestAndDecodesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replay.bin")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writeMessage(f, Message{Type: 42, Segments: []string{"bob", "1001"}}))
	require.NoError(t, f.Close())

	c := DialReplay(path)
	resp, err := c.RoundTrip(Message{Type: 999, Segments: []string{"ignored"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), resp.Type)
	assert.Equal(t, []string{"bob", "1001"}, resp.Segments)
}

func TestHeuristicScan_ExtractsPrintableRuns(t *testing.T) {
	data := []byte{0x00, 'f', 'o', 'o', 0x01, 'b', 'a', 'r', 0x02, 'x'}
	got := HeuristicScan(data)
	assert.Equal(t, []string{"foo", "bar"}, got)
}
