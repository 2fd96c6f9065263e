package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/parbhatia/gospace-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	WriteWait  time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

// Server is the websocket side of the signaling dispatcher.
type Server struct {
	Orch    *orch.Orchestrator
	Hub     *Hub
	Limiter *JoinRateLimiter
	Metrics *metrics.Metrics

	opts     Options
	handlers map[string]handler
	upgrader websocket.Upgrader
}

func NewServer(o *orch.Orchestrator, hub *Hub, limiter *JoinRateLimiter, m *metrics.Metrics, opts Options) *Server {
	s := &Server{
		Orch:    o,
		Hub:     hub,
		Limiter: limiter,
		Metrics: m,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.handlers = s.routes()
	// Rooms can vanish without a removeRoom message: reaping, worker death.
	if o != nil {
		o.Registry.OnRoomRemoved(func(id domain.RoomID) { hub.DropRoom(id) })
	}
	return s
}

// HandleSignal upgrades the request and serves the connection until it
// closes. The pumps outlive the gin handler.
func (s *Server) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newConn(ws, s.opts.SendBuffer)
	log.Info().Str("module", "signal").Str("conn", conn.ID()).
		Str("client_token", c.GetString("client_token")).Msg("new WS connection")
	s.Metrics.ConnectionOpened()

	ctx, cancel := context.WithCancel(ctx)
	go s.writePump(ctx, conn)
	go func() {
		defer cancel()
		s.readPump(ctx, conn)
	}()
}

func (s *Server) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump ctx done")
			return
		case f, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump channel closed")
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(f.messageType, f.data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.ID()).Msg("readPump closing")
		c.Close()
		s.disconnect(c)
		s.Metrics.ConnectionClosed()
	}()

	pongWait := s.opts.PingPeriod * 10 / 9
	c.ws.SetReadLimit(s.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("readPump read error")
			}
			return
		}
		s.handleFrame(ctx, c, mt, data)
	}
}

// disconnect removes the connection's users from every room where this
// connection is still their current one.
func (s *Server) disconnect(c *Conn) {
	for user, rooms := range s.Hub.Release(c) {
		s.Orch.Disconnect(context.Background(), user, rooms)
	}
}
