package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beacon/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New(logger.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

// readEvent reads one SSE frame, skipping comments
func readEvent(t *testing.T, reader *bufio.Reader) map[string]string {
	t.Helper()
	fields := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && len(fields) > 0:
			return fields
		case line == "", strings.HasPrefix(line, ":"):
			continue
		}
		name, value, _ := strings.Cut(line, ": ")
		fields[name] = value
	}
}

func connect(t *testing.T, h *Hub, url string) *bufio.Reader {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return reader
}

func TestHubStreamsEvents(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	reader := connect(t, h, srv.URL)
	h.Broadcast("device_discovered", map[string]string{"device_id": "d1"})

	ev := readEvent(t, reader)
	assert.Equal(t, "1", ev["id"])
	assert.Equal(t, "device_discovered", ev["event"])
	assert.JSONEq(t, `{"device_id":"d1"}`, ev["data"])
}

func TestHubFiltersByType(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	reader := connect(t, h, srv.URL+"?types=device_lost,%20credential_verified")
	h.Broadcast("device_discovered", map[string]string{"device_id": "d1"})
	h.Broadcast("device_lost", map[string]string{"device_id": "d1"})

	ev := readEvent(t, reader)
	assert.Equal(t, "device_lost", ev["event"])
	assert.Equal(t, "2", ev["id"], "ids count every event, delivered or not")
}

func TestParseFilter(t *testing.T) {
	assert.Nil(t, parseFilter(""))
	assert.Nil(t, parseFilter(" , "))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, parseFilter("a, b,"))
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	resp.Body.Close()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubShutdownEndsStreams(t *testing.T) {
	h, cancel := startHub(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after hub shutdown")
	}
	assert.Equal(t, 0, h.ClientCount())
}

func TestBroadcastWithoutRunDropsWhenFull(t *testing.T) {
	h := New(logger.NewTestLogger())
	for i := 0; i < 300; i++ {
		h.Broadcast("tick", i)
	}
	assert.Len(t, h.broadcast, cap(h.broadcast))
}
