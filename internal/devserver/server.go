// Package devserver is a local stand-in for the production backend: it
// relays the full wire contract for parties, rounds, chat, and spectating,
// but accepts every submission instead of grading it. Useful for local play
// and for integration tests that need a real websocket peer.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codeduel/client/pkg/protocol"
)

const writeTimeout = 3 * time.Second

type Server struct {
	hub *hub
	log *zap.Logger
}

func New(parent context.Context, clock clockwork.Clock, log *zap.Logger) *Server {
	return &Server{
		hub: newHub(parent, clock, log),
		log: log,
	}
}

// Routes builds the router with the hub injected.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// client is one websocket connection. Writes go through a buffered outbox
// drained by a writer goroutine; slow clients drop frames rather than stall
// a party actor.
type client struct {
	id       string
	username string
	party    *party
	send     chan protocol.Envelope
	log      *zap.Logger
}

func (c *client) trySend(env protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.log.Warn("outbox full, dropping frame",
			zap.String("conn", c.id), zap.String("event", env.Event))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &client{
		id:   uuid.New().String(),
		send: make(chan protocol.Envelope, 32),
		log:  s.log,
	}
	s.log.Info("connection established", zap.String("conn", c.id))

	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for {
			select {
			case env := <-c.send:
				payload, err := json.Marshal(env)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			case <-writeCtx.Done():
				return
			}
		}
	}()

	defer func() {
		if c.party != nil {
			c.party.inbox <- clientGone{c: c}
		}
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.log.Debug("read ended", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.trySend(errEnvelope("bad json"))
			continue
		}
		s.route(c, env)
	}
}

// route associates the connection with a party on create/join and forwards
// everything else to that party's actor.
func (s *Server) route(c *client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventCreateParty:
		var req protocol.CreateParty
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Username == "" {
			c.trySend(errEnvelope("Username is required"))
			return
		}
		if c.party != nil {
			c.trySend(errEnvelope("Already in a party"))
			return
		}
		c.username = req.Username
		reply := make(chan *party, 1)
		s.hub.inbox <- createParty{host: c, reply: reply}
		c.party = <-reply

	case protocol.EventJoinParty:
		var req protocol.JoinParty
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Username == "" || req.PartyCode == "" {
			c.trySend(errEnvelope("Username and party code are required"))
			return
		}
		if c.party != nil {
			c.trySend(errEnvelope("Already in a party"))
			return
		}
		reply := make(chan *party, 1)
		s.hub.inbox <- getParty{code: req.PartyCode, reply: reply}
		p := <-reply
		if p == nil {
			c.trySend(errEnvelope("Party not found"))
			return
		}
		c.username = req.Username
		c.party = p
		p.inbox <- memberJoin{c: c}

	case protocol.EventLeaveParty:
		if c.party != nil {
			c.party.inbox <- fromClient{c: c, env: env}
			c.party = nil
		}

	default:
		if c.party == nil {
			c.trySend(errEnvelope("Party not found"))
			return
		}
		c.party.inbox <- fromClient{c: c, env: env}
	}
}

func errEnvelope(message string) protocol.Envelope {
	env, _ := protocol.NewEnvelope(protocol.EventError, protocol.ServerError{Message: message})
	return env
}
