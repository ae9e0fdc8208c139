package server

import (
	"encoding/json"
	"sync"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

// SSEEvent is the payload published to event subscribers.
type SSEEvent struct {
	Type         string               `json:"type"`
	TabulationID string               `json:"tabulationId"`
	TeamName     string               `json:"teamName"`
	TeamNumber   string               `json:"teamNumber,omitempty"`
	Match        tabulation.MatchKind `json:"matchId"`
	Table        string               `json:"table,omitempty"`
	Score        int                  `json:"score"`
	GPScore      int                  `json:"gpScore"`
}

const eventScoreCommitted = "score_committed"

// Broker is an in-process pub/sub for SSE events, keyed by event ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded SSE events for the given event.
func (b *Broker) Subscribe(eventID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[eventID] == nil {
		b.subs[eventID] = make(map[chan []byte]struct{})
	}
	b.subs[eventID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(eventID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[eventID], ch)
	if len(b.subs[eventID]) == 0 {
		delete(b.subs, eventID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given event. Slow
// subscribers miss it.
func (b *Broker) Publish(eventID string, event SSEEvent) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[eventID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.RUnlock()
}
