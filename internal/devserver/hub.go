package devserver

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type hubMsg interface{ isHubMsg() }

type createParty struct {
	host  *client
	reply chan *party
}

type getParty struct {
	code  string
	reply chan *party
}

type removeParty struct{ code string }

type shutdownHub struct{}

func (createParty) isHubMsg() {}
func (getParty) isHubMsg()    {}
func (removeParty) isHubMsg() {}
func (shutdownHub) isHubMsg() {}

// hub is the party registry: one actor goroutine owning the code -> party
// map, so lookups and creation never race.
type hub struct {
	inbox   chan hubMsg
	parties map[string]*party
	clock   clockwork.Clock
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func newHub(parent context.Context, clock clockwork.Clock, log *zap.Logger) *hub {
	ctx, cancel := context.WithCancel(parent)
	h := &hub{
		inbox:   make(chan hubMsg, 64),
		parties: make(map[string]*party),
		clock:   clock,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case createParty:
				code := h.freshCode()
				p := newParty(h.ctx, h, code, msg.host, h.clock, h.log)
				h.parties[code] = p
				msg.reply <- p

			case getParty:
				msg.reply <- h.parties[msg.code] // may be nil

			case removeParty:
				delete(h.parties, msg.code)

			case shutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *hub) shutdown() {
	for code, p := range h.parties {
		p.inbox <- partyShutdown{}
		delete(h.parties, code)
	}
	h.cancel()
}

func (h *hub) freshCode() string {
	for {
		code, err := generateCode()
		if err != nil {
			h.log.Error("code generation failed", zap.Error(err))
			continue
		}
		if _, taken := h.parties[code]; !taken {
			return code
		}
		h.log.Debug("collision on code, regenerating")
	}
}

// generateCode builds a 6-character A-Z0-9 party code.
func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
