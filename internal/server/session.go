package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/overlay"
	"go.uber.org/zap"
)

// ViewState is what a client renders for its direction overlay.
type ViewState struct {
	Title      string  `json:"title"`
	Subtitle   string  `json:"subtitle"`
	Distance   string  `json:"distance"`
	Azimuth    float64 `json:"azimuth"`
	HasAzimuth bool    `json:"hasAzimuth"`
	Cardinal   string  `json:"cardinal,omitempty"`
	State      string  `json:"state"`
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Type    string     `json:"type"` // "hello", "view", "catalog", "error"
	Session string     `json:"session,omitempty"`
	View    *ViewState `json:"view,omitempty"`
	Error   string     `json:"error,omitempty"`
	Stamp   int64      `json:"stamp"` // Unix ms
}

// clientMessage is a command from a client.
type clientMessage struct {
	Type     string               `json:"type"` // "show", "resume", "pause", "touch", "rotation"
	TargetID string               `json:"targetId,omitempty"`
	Target   *overlay.TargetPoint `json:"target,omitempty"`
	Query    string               `json:"query,omitempty"`
	Touch    *overlay.TouchEvent  `json:"touch,omitempty"`
	Rotation int                  `json:"rotation,omitempty"`
}

// session is one connected display. It hosts a direction overlay and is
// that overlay's View.
type session struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	// overlay is only touched from the client's reader goroutine.
	overlay *overlay.Overlay

	mu       sync.Mutex
	view     ViewState
	rotation compass.Rotation
	closed   bool
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		id:   id,
		srv:  srv,
		conn: conn,
		send: make(chan []byte, 64),
		log:  srv.log.With(zap.String("session", id)),
	}
}

// openOverlay replaces a dismissed overlay with a fresh one.
func (s *session) openOverlay() *overlay.Overlay {
	if s.overlay == nil || s.overlay.State() == overlay.Dismissed {
		s.mu.Lock()
		s.view = ViewState{State: overlay.Hidden.String()}
		s.mu.Unlock()
		s.overlay = overlay.New(s.srv.hub, s, s.srv.calculator())
	}
	return s.overlay
}

func (s *session) handleMessage(ctx context.Context, raw []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("bad message: %w", err)
	}

	switch msg.Type {
	case "show":
		target, err := s.resolveTarget(ctx, msg)
		if err != nil {
			return err
		}
		s.openOverlay().Show(*target)
	case "resume":
		o := s.openOverlay()
		o.Resume()
		s.updateState(o.State())
	case "pause":
		if s.overlay != nil {
			s.overlay.Pause()
			s.updateState(s.overlay.State())
		}
	case "touch":
		if s.overlay != nil {
			ev := overlay.TouchEvent{}
			if msg.Touch != nil {
				ev = *msg.Touch
			}
			s.overlay.Touch(ev)
		}
	case "rotation":
		rot, err := compass.ParseRotation(msg.Rotation)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.rotation = rot
		s.mu.Unlock()
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (s *session) resolveTarget(ctx context.Context, msg clientMessage) (*overlay.TargetPoint, error) {
	switch {
	case msg.Target != nil:
		return msg.Target, nil
	case msg.TargetID != "":
		if s.srv.catalog == nil {
			return nil, fmt.Errorf("no target catalog configured")
		}
		e, err := s.srv.catalog.Get(msg.TargetID)
		if err != nil {
			return nil, err
		}
		return &e.TargetPoint, nil
	case msg.Query != "":
		return s.srv.geocode(ctx, msg.Query)
	default:
		return nil, fmt.Errorf("show needs a target, targetId or query")
	}
}

// close pauses the overlay and stops the writer. No frame is queued after
// close returns.
func (s *session) close() {
	if s.overlay != nil {
		s.overlay.Pause()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *session) SetTitle(text string) {
	s.update(func(v *ViewState) { v.Title = text })
}

func (s *session) SetSubtitle(text string) {
	s.update(func(v *ViewState) { v.Subtitle = text })
}

func (s *session) SetDistance(text string) {
	s.update(func(v *ViewState) { v.Distance = text })
}

func (s *session) SetAzimuth(deg float64) {
	s.update(func(v *ViewState) {
		v.Azimuth = deg
		v.HasAzimuth = true
		v.Cardinal = compass.Cardinal(deg)
	})
}

func (s *session) Rotation() compass.Rotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

func (s *session) Dismiss() {
	s.srv.metrics.Dismissals.Inc()
	s.log.Debug("overlay dismissed")
	s.update(func(v *ViewState) { v.State = overlay.Dismissed.String() })
}

func (s *session) updateState(st overlay.State) {
	s.update(func(v *ViewState) { v.State = st.String() })
}

// update applies f to the view and pushes the result to the client.
func (s *session) update(f func(v *ViewState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.view)
	if s.view.State == "" {
		s.view.State = overlay.Hidden.String()
	}
	view := s.view
	s.pushLocked(Frame{Type: "view", View: &view, Stamp: time.Now().UnixMilli()})
}

func (s *session) push(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(frame)
}

func (s *session) pushLocked(frame Frame) {
	if s.closed {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		// Client too slow, skip
	}
}
