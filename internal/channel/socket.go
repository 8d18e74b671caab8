package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/codeduel/client/pkg/protocol"
)

const writeTimeout = 3 * time.Second

// Socket is the websocket-backed Channel. One logical connection per client
// instance; frames are protocol.Envelope JSON.
type Socket struct {
	conn *websocket.Conn
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

// Dial connects to the server endpoint and starts the read loop. The dial
// context bounds only the handshake; the connection itself lives until
// Close.
func Dial(ctx context.Context, url string, log *zap.Logger) (*Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Socket{
		conn:     conn,
		log:      log,
		ctx:      connCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[string]map[int]Handler),
	}
	go s.readLoop()
	return s, nil
}

func (s *Socket) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if s.ctx.Err() == nil {
					s.log.Warn("read failed", zap.Error(err))
				}
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("bad frame", zap.Error(err))
			continue
		}
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env protocol.Envelope) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[env.Event]))
	for _, h := range s.handlers[env.Event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(env.Data)
	}
}

func (s *Socket) Emit(ctx context.Context, event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (s *Socket) Subscribe(event string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.handlers[event][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

// Close tears the connection down, waits for the read loop to exit, and
// drops every listener so nothing is handled twice after a reconnect.
func (s *Socket) Close() error {
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "bye")
	<-s.done

	s.mu.Lock()
	clear(s.handlers)
	s.mu.Unlock()

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = nil
	}
	return err
}
