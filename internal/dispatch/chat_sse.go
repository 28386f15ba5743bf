package dispatch

import (
	"net/http"
	"sync"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// SSEConn is a Conn backed by a Server-Sent Events response. Messages are
// buffered; a full buffer is reported as ErrSlowConsumer instead of
// blocking the dispatcher.
type SSEConn struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func NewSSEConn(buffer int) *SSEConn {
	if buffer <= 0 {
		buffer = 16
	}
	return &SSEConn{ch: make(chan []byte, buffer), done: make(chan struct{})}
}

func (c *SSEConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.ch <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *SSEConn) Done() <-chan struct{} { return c.done }

// Close marks the connection closed. It is safe to call more than once.
func (c *SSEConn) Close() { c.once.Do(func() { close(c.done) }) }

// ServeSSE streams chat messages for leadID until the client disconnects.
// The connection is registered for the lifetime of the request. heartbeat
// keeps idle proxies from closing the stream; buffer bounds the messages
// queued for a slow reader.
func ServeSSE(reg *ConnectionRegistry, w http.ResponseWriter, r *http.Request, leadID string, heartbeat time.Duration, buffer int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	conn := NewSSEConn(buffer)
	reg.Register(leadID, conn)
	defer conn.Close()
	logger.Info("[Chat] connection opened", "lead_id", leadID)

	w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Chat] connection closed", "lead_id", leadID)
			return
		case <-conn.Done():
			return
		case msg := <-conn.ch:
			w.Write([]byte("event: message\ndata: "))
			w.Write(msg)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
