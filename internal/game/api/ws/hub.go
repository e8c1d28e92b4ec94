// Package ws exposes the round transport: a websocket push hub with one
// room per round, plus HTTP endpoints for the poll fallback and action
// submission.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

// wsFrame is the single frame shape both directions use.
type wsFrame struct {
	Type     string          `json:"type"`
	RoundID  string          `json:"round_id,omitempty"`
	Grant    string          `json:"grant,omitempty"`
	Revision int64           `json:"revision,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	Error    *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	frameSubscribe = "subscribe"
	frameState     = "state"
	frameError     = "error"
)

// wsPeer serializes frame writes to one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
	// viewer is the seat this connection is redacted for; empty means a
	// spectator who only sees public facts. Guarded by mu: a re-subscribe
	// rebinds it while broadcasts read it.
	viewer round.ActorID
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) setViewer(viewer round.ActorID) {
	p.mu.Lock()
	p.viewer = viewer
	p.mu.Unlock()
}

func (p *wsPeer) viewerID() round.ActorID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewer
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// Hub tracks one room per round and fans accepted states out to every
// subscribed peer, redacted per seat. Delivery is best-effort: a failed
// write drops the peer and the poll fallback covers the gap.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roundRoom
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*roundRoom)}
}

func (h *Hub) room(roundID string) *roundRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roundID]
	if ok {
		return room
	}
	room = newRoundRoom(roundID)
	h.rooms[roundID] = room
	return room
}

// Publish implements orchestrator.Broadcaster.
func (h *Hub) Publish(roundID string, state round.State) {
	h.room(roundID).broadcast(state)
}

// Subscribe registers an in-process listener for a round's accepted states,
// alongside the websocket peers. The returned function removes the listener.
func (h *Hub) Subscribe(roundID string, fn func(round.State)) func() {
	return h.room(roundID).listen(fn)
}

type roundRoom struct {
	mu           sync.Mutex
	roundID      string
	subscribers  map[*wsPeer]struct{}
	listeners    map[int]func(round.State)
	nextListener int
}

func newRoundRoom(roundID string) *roundRoom {
	return &roundRoom{
		roundID:     roundID,
		subscribers: make(map[*wsPeer]struct{}),
		listeners:   make(map[int]func(round.State)),
	}
}

func (r *roundRoom) listen(fn func(round.State)) func() {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *roundRoom) join(peer *wsPeer) {
	r.mu.Lock()
	r.subscribers[peer] = struct{}{}
	r.mu.Unlock()
}

func (r *roundRoom) leave(peer *wsPeer) {
	r.mu.Lock()
	delete(r.subscribers, peer)
	r.mu.Unlock()
}

func (r *roundRoom) broadcast(state round.State) {
	r.mu.Lock()
	subscribers := make([]*wsPeer, 0, len(r.subscribers))
	for subscriber := range r.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	listeners := make([]func(round.State), 0, len(r.listeners))
	for _, listener := range r.listeners {
		listeners = append(listeners, listener)
	}
	r.mu.Unlock()

	for _, listener := range listeners {
		listener(state.Clone())
	}

	for _, peer := range subscribers {
		frame, err := stateFrame(r.roundID, state, peer.viewerID())
		if err != nil {
			log.Printf("ws: encode state for round %s: %v", r.roundID, err)
			return
		}
		if err := peer.writeFrame(frame); err != nil {
			r.leave(peer)
		}
	}
}

func stateFrame(roundID string, state round.State, viewer round.ActorID) (wsFrame, error) {
	document, err := state.RedactFor(viewer).Marshal()
	if err != nil {
		return wsFrame{}, err
	}
	return wsFrame{
		Type:     frameState,
		RoundID:  roundID,
		Revision: state.Revision,
		State:    document,
	}, nil
}
