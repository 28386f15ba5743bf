package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
)

// Conn is a live chat transport for one lead. Done is closed when the
// transport goes away.
type Conn interface {
	Send(payload []byte) error
	Done() <-chan struct{}
}

// ConnectionRegistry maps lead ids to their live chat connection. It is
// safe for concurrent register, remove and lookup.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	metrics *metrics.Metrics
}

func NewConnectionRegistry(m *metrics.Metrics) *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]Conn), metrics: m}
}

// Register installs conn for leadID, replacing any previous connection.
// The entry is removed when conn's Done channel closes.
func (r *ConnectionRegistry) Register(leadID string, conn Conn) {
	r.mu.Lock()
	r.conns[leadID] = conn
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.ChatConnections(n)

	go func() {
		<-conn.Done()
		r.Remove(leadID, conn)
	}()
}

// Remove deletes the entry for leadID only while it still holds conn, so a
// late close of a replaced connection cannot evict its successor.
func (r *ConnectionRegistry) Remove(leadID string, conn Conn) {
	r.mu.Lock()
	if cur, ok := r.conns[leadID]; ok && cur == conn {
		delete(r.conns, leadID)
	}
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.ChatConnections(n)
}

// Lookup returns the lead's connection if one is registered and open.
func (r *ConnectionRegistry) Lookup(leadID string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[leadID]
	r.mu.RUnlock()
	if !ok || isClosed(conn) {
		return nil, false
	}
	return conn, true
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func isClosed(c Conn) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// ChatMessage is the payload pushed to the lead's connection.
type ChatMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	StepOrder  int    `json:"step_order"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

type ChatSender struct {
	registry *ConnectionRegistry
	clock    clock.Clock
}

func NewChatSender(registry *ConnectionRegistry, clk clock.Clock) *ChatSender {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ChatSender{registry: registry, clock: clk}
}

func (s *ChatSender) Channel() domain.Channel { return domain.ChannelChat }

// Send pushes the step to the lead's live connection. No connection, or one
// that closes mid-send, yields no_connection.
func (s *ChatSender) Send(ctx context.Context, lead *domain.Lead, step domain.RenderedStep) domain.DispatchResult {
	noConn := domain.DispatchResult{
		ID:        uuid.NewString(),
		Status:    domain.DispatchNoConnection,
		Timestamp: s.clock.Now(),
	}
	if lead == nil || s.registry == nil {
		return noConn
	}
	conn, ok := s.registry.Lookup(lead.ID)
	if !ok {
		return noConn
	}

	now := s.clock.Now()
	msg := ChatMessage{
		Type:      "campaign_message",
		ID:        uuid.NewString(),
		LeadID:    lead.ID,
		StepOrder: step.Order,
		Content:   step.Content,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if campaignID, ok := CampaignIDFromContext(ctx); ok {
		msg.CampaignID = campaignID
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return failed(err, s.clock)
	}

	if err := conn.Send(payload); err != nil {
		if errors.Is(err, ErrConnectionClosed) || isClosed(conn) {
			s.registry.Remove(lead.ID, conn)
			return noConn
		}
		return failed(err, s.clock)
	}
	return domain.DispatchResult{ID: msg.ID, Status: domain.DispatchDelivered, Timestamp: now}
}
