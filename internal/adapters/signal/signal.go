package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/app"
	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendBufferSize = 32

// Controller owns the websocket endpoint: it upgrades connections, runs
// their pumps and dispatches inbound events into the core components.
type Controller struct {
	Registry *app.Registry
	Presence *app.Presence
	Fanout   *app.Fanout
	Voice    *app.Coordinator
	Calls    *app.CallRelay

	Verifier  core.CredentialVerifier
	Directory core.Directory
	Status    core.StatusStore

	ReadLimit  int64
	PingPeriod time.Duration

	typingLimiter *EventRateLimiter
}

func NewController() *Controller {
	return &Controller{
		ReadLimit:     32768,
		PingPeriod:    54 * time.Second,
		typingLimiter: NewEventRateLimiter(10, 5*time.Second),
	}
}

// wsConn wraps one websocket with a non-blocking buffered send path.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connState is the per-connection view of who, if anyone, is behind it.
// A connection starts unauthenticated; until authenticate succeeds every
// privileged event is ignored.
type connState struct {
	id   string
	conn *wsConn

	mu       sync.Mutex
	userID   domain.UserID
	username string
	authed   bool
}

func (st *connState) identity() (domain.UserID, string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.userID, st.username, st.authed
}

func (st *connState) setIdentity(id core.Identity) {
	st.mu.Lock()
	st.userID = id.UserID
	st.username = id.Username
	st.authed = true
	st.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	st := &connState{
		id: uuid.NewString(),
		conn: &wsConn{
			conn: ws,
			send: make(chan core.Frame, sendBufferSize),
		},
	}
	log.Info().Str("module", "signal").Str("conn", st.id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, st)
	go ctl.readPump(ctx, cancel, st)
}
