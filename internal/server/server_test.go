package server

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvlite/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PIDFile = filepath.Join(dir, "kvlite.pid")
	cfg.LogFile = filepath.Join(dir, "kvlite.log")
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func startTestServer(t *testing.T, cfg config.Config) (*Server, func()) {
	t.Helper()
	srv, err := New(cfg, quietLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.acceptLoop()
	}()

	stop := func() {
		srv.Shutdown()
		<-done
	}
	return srv, stop
}

func dialAndSend(t *testing.T, addr net.Addr, lines ...string) []string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	var responses []string
	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		resp, err := reader.ReadString('\n')
		require.NoError(t, err)
		responses = append(responses, resp[:len(resp)-1])
	}
	return responses
}

func TestServerBasicSetGetDeleteCycle(t *testing.T) {
	cfg := testConfig(t)
	srv, stop := startTestServer(t, cfg)
	defer stop()

	resp := dialAndSend(t, srv.Addr(),
		"SET greeting hello",
		"GET greeting",
		"DELETE greeting",
		"GET greeting",
	)
	assert.Equal(t, []string{"OK", "VALUE hello", "OK", "NOT_FOUND"}, resp)
}

func TestServerBinaryValueRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	srv, stop := startTestServer(t, cfg)
	defer stop()

	resp := dialAndSend(t, srv.Addr(),
		"SET bin base64:AAECAw==",
		"GET bin",
	)
	assert.Equal(t, "OK", resp[0])
	assert.Equal(t, "VALUE base64:AAECAw==", resp[1])
}

func TestServerLargeValueSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	srv, stop := startTestServer(t, cfg)

	raw := make([]byte, 800*1024)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	encoded := "base64:" + base64.StdEncoding.EncodeToString(raw)

	resp := dialAndSend(t, srv.Addr(), "SET big "+encoded)
	require.Equal(t, []string{"OK"}, resp)
	stop()

	srv2, stop2 := startTestServer(t, cfg)
	defer stop2()

	resp = dialAndSend(t, srv2.Addr(), "GET big")
	require.Len(t, resp, 1)
	assert.Equal(t, "VALUE "+encoded, resp[0])
}

func TestServerCompactShrinksLogAndKeepsLatestValue(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompactThreshold = 1 << 30 // disable auto-compaction for this test
	srv, stop := startTestServer(t, cfg)
	defer stop()

	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("SET k v%d", i))
	}
	lines = append(lines, "GET k")
	resp := dialAndSend(t, srv.Addr(), lines...)
	assert.Equal(t, "VALUE v99", resp[len(resp)-1])

	sizeBefore := srv.engine.LogSize()
	resp = dialAndSend(t, srv.Addr(), "COMPACT", "GET k")
	assert.Equal(t, []string{"OK", "VALUE v99"}, resp)
	assert.Less(t, srv.engine.LogSize(), sizeBefore)
}

func TestServerSecondInstanceRefusesToStart(t *testing.T) {
	cfg := testConfig(t)
	srv, stop := startTestServer(t, cfg)
	defer stop()

	_, err := New(cfg, quietLogger())
	require.Error(t, err)
}

func TestServerInvalidCommandGetsErrorResponse(t *testing.T) {
	cfg := testConfig(t)
	srv, stop := startTestServer(t, cfg)
	defer stop()

	resp := dialAndSend(t, srv.Addr(), "FROBNICATE x")
	assert.Equal(t, "ERROR Invalid command", resp[0])
}

func TestAcquirePIDFileRemovesStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	require.NoError(t, acquirePIDFile(path))

	pid, ok := readPIDFile(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFileRefusesLiveProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.pid")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	err := acquirePIDFile(path)
	require.Error(t, err)
}
