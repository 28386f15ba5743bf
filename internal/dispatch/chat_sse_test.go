package dispatch

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
)

func TestServeSSE_RegistersAndStreams(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeSSE(reg, w, r, "lead-1", time.Minute, 4)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	require.Eventually(t, func() bool { _, ok := reg.Lookup("lead-1"); return ok }, time.Second, 5*time.Millisecond)

	res := NewChatSender(reg, clock.NewFake(epoch)).Send(context.Background(), lead(), chatStep())
	assert.Equal(t, domain.DispatchDelivered, res.Status)

	data := readEventData(t, lines, "message")
	assert.Contains(t, data, `"content":"Still interested?"`)

	cancel()
	assert.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// readEventData skips frames until one named event arrives and returns its
// data payload.
func readEventData(t *testing.T, r *bufio.Reader, event string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line != "event: "+event+"\n" {
			continue
		}
		data, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(data, "data: "), "event %s without data: %q", event, data)
		return strings.TrimSuffix(strings.TrimPrefix(data, "data: "), "\n")
	}
}
