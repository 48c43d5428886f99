// Package ws terminates persistent client connections and translates wire
// events into service calls. The gateway owns sockets and framing only; who
// is reachable lives in the registry, call state in the coordinator.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"counselconnect-backend/internal/protocol"
	"counselconnect-backend/internal/registry"
	"counselconnect-backend/internal/service/chat"
	"counselconnect-backend/internal/service/signal"
	"counselconnect-backend/pkg/constants"
	apperrors "counselconnect-backend/pkg/errors"
	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
)

// sendBufferSize is the per-session outbound queue. A session that cannot
// drain it is evicted rather than allowed to stall fan-out.
const sendBufferSize = 256

// PresenceTracker mirrors live connectivity into shared state so other
// instances can answer "is this identity online".
type PresenceTracker interface {
	SetOnline(ctx context.Context, identity uuid.UUID) error
	SetOffline(ctx context.Context, identity uuid.UUID) error
	Refresh(ctx context.Context, identity uuid.UUID) error
}

// Gateway upgrades HTTP requests to WebSocket sessions and dispatches their
// events.
type Gateway struct {
	reg      registry.Registry
	chat     *chat.Service
	coord    *signal.Coordinator
	presence PresenceTracker

	upgrader websocket.Upgrader
	// semaphore caps concurrent sessions on this instance
	semaphore chan struct{}
}

// defaultMaxConnections caps concurrent sessions per instance.
const defaultMaxConnections = 10000

func NewGateway(reg registry.Registry, chatSvc *chat.Service, coord *signal.Coordinator, presence PresenceTracker, allowedOrigins []string) *Gateway {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	g := &Gateway{
		reg:       reg,
		chat:      chatSvc,
		coord:     coord,
		presence:  presence,
		semaphore: make(chan struct{}, defaultMaxConnections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
	}

	if presence != nil {
		reg.OnTeardown(func(sessionID string, identity uuid.UUID, lastSession bool) {
			if !lastSession {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := presence.SetOffline(ctx, identity); err != nil {
				logger.Warn("Failed to clear presence",
					zap.String("identity", identity.String()),
					zap.Error(err))
			}
		})
	}

	return g
}

// ServeWS upgrades the request and runs the session until the socket closes.
// The caller must have authenticated the request; the identity under which
// signaling happens is still bound explicitly via join_room.
func (g *Gateway) ServeWS(c *gin.Context) {
	identityVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, ok := identityVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid identity"})
		return
	}

	select {
	case g.semaphore <- struct{}{}:
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection limit reached"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		id:       uuid.NewString(),
		identity: identity,
	}

	g.reg.Register(sess.id, sess)
	metrics.WSConnectionsActive.Inc()
	metrics.WSConnectionsTotal.Inc()

	go sess.writePump()
	go sess.readPump()
}

// session is one live WebSocket connection. It implements
// registry.Transport: fan-out enqueues frames without blocking.
type session struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	id string
	// identity is the authenticated principal of the underlying request.
	// The registry binding happens on join_room and must match it.
	identity uuid.UUID
}

// Send implements registry.Transport
func (s *session) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close implements registry.Transport
func (s *session) Close() error {
	return s.conn.Close()
}

// heartbeat extends the presence TTL so an idle but connected identity does
// not expire out of the online set between pings.
func (s *session) heartbeat() {
	if s.gateway.presence == nil {
		return
	}
	identity, bound := s.gateway.reg.Identity(s.id)
	if !bound {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gateway.presence.Refresh(ctx, identity); err != nil {
		logger.Warn("Failed to refresh presence",
			zap.String("identity", identity.String()),
			zap.Error(err))
	}
}

func (s *session) readPump() {
	defer func() {
		s.gateway.reg.Unregister(s.id)
		s.conn.Close()
		metrics.WSConnectionsActive.Dec()
		<-s.gateway.semaphore
	}()

	s.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		s.heartbeat()
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error",
					zap.String("session_id", s.id),
					zap.Error(err))
			}
			return
		}
		s.gateway.dispatch(s, raw)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one inbound frame and routes it. Unknown events and
// events from sessions that never joined are counted and dropped; benign
// signaling failures are reported to the originating session only.
func (g *Gateway) dispatch(sess *session, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.WSEventsDroppedTotal.WithLabelValues("decode_error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.MessagePersistTimeout)
	defer cancel()

	if env.Event == protocol.EventJoinRoom {
		g.handleJoin(ctx, sess, env.Data)
		return
	}

	identity, bound := g.reg.Identity(sess.id)
	if !bound {
		metrics.WSEventsDroppedTotal.WithLabelValues("unbound_session").Inc()
		logger.Debug("Dropped event from unbound session",
			zap.String("session_id", sess.id),
			zap.String("event", env.Event))
		return
	}

	var err error
	switch env.Event {
	case protocol.EventLeaveCall:
		var req protocol.LeaveCall
		if err = json.Unmarshal(env.Data, &req); err == nil {
			if req.Identity != identity {
				err = apperrors.ForbiddenError("cannot leave as another identity")
			} else {
				g.reg.Unregister(sess.id)
			}
		}

	case protocol.EventSendMessage:
		var req protocol.SendMessage
		if err = json.Unmarshal(env.Data, &req); err == nil {
			_, err = g.chat.Send(ctx, identity, req.Receiver, req.Body, req.Attachment)
		}

	case protocol.EventInitiateCall:
		var req protocol.InitiateCall
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.Initiate(ctx, identity, req)
		}

	case protocol.EventSendOffer:
		var req protocol.SendOffer
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.RelayOffer(ctx, identity, req)
		}

	case protocol.EventSendAnswer:
		var req protocol.SendAnswer
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.RelayAnswer(ctx, identity, req)
		}

	case protocol.EventSendICECandidate:
		var req protocol.SendICECandidate
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.RelayICECandidate(ctx, identity, req)
		}

	case protocol.EventAcceptCall:
		var req protocol.AcceptCall
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.Accept(ctx, identity, req)
		}

	case protocol.EventRejectCall:
		var req protocol.RejectCall
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.Reject(ctx, identity, req)
		}

	case protocol.EventEndCall:
		var req protocol.EndCall
		if err = json.Unmarshal(env.Data, &req); err == nil {
			err = g.coord.End(ctx, identity, req)
		}

	default:
		metrics.WSEventsDroppedTotal.WithLabelValues("unknown_event").Inc()
		logger.Debug("Dropped unknown event",
			zap.String("session_id", sess.id),
			zap.String("event", env.Event))
		return
	}

	if err != nil {
		g.notifyError(sess, env.Event, err)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, sess *session, data json.RawMessage) {
	var req protocol.JoinRoom
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.WSEventsDroppedTotal.WithLabelValues("decode_error").Inc()
		return
	}

	// A session may only join as the identity it authenticated as.
	if req.Identity != sess.identity {
		g.notifyError(sess, protocol.EventJoinRoom,
			apperrors.ForbiddenError("cannot join as another identity"))
		return
	}

	if err := g.reg.Bind(sess.id, req.Identity); err != nil {
		g.notifyError(sess, protocol.EventJoinRoom, apperrors.ConflictError(err.Error()))
		return
	}

	if g.presence != nil {
		if err := g.presence.SetOnline(ctx, req.Identity); err != nil {
			logger.Warn("Failed to set presence",
				zap.String("identity", req.Identity.String()),
				zap.Error(err))
		}
	}
}

func (g *Gateway) notifyError(sess *session, event string, err error) {
	appErr := apperrors.GetAppError(err)
	if sendErr := sess.Send(protocol.EventError, protocol.ErrorNotice{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}); sendErr != nil {
		logger.Debug("Failed to deliver error notice",
			zap.String("session_id", sess.id),
			zap.String("event", event))
	}
}
