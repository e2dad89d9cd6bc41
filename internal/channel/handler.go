package channel

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/auth"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

const authDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts node connections, runs the authentication handshake
// and then pumps telemetry into the fleet registry.
type Server struct {
	store    db.Store
	registry *fleet.Registry
}

func NewServer(store db.Store, registry *fleet.Registry) *Server {
	return &Server{store: store, registry: registry}
}

// Handle upgrades /api/agent/channel requests and serves the
// connection until it drops.
func (h *Server) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		h.serve(conn)
	}
}

// serve authenticates the connection and, on success, registers it and
// runs the read loop. On auth failure the channel is closed right after
// the explicit failure reply.
func (h *Server) serve(conn *websocket.Conn) {
	nodeID, err := h.authenticate(conn)
	if err != nil {
		log.Warn().Err(err).Msg("channel authentication failed")
		_ = conn.Close()
		return
	}

	sess := newSession(nodeID, conn)
	h.registry.Register(nodeID, sess)
	go sess.writeLoop()

	defer func() {
		h.registry.Remove(nodeID, sess)
		_ = sess.Close()
	}()

	h.readLoop(sess)
}

func (h *Server) authenticate(conn *websocket.Conn) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authDeadline))
	defer conn.SetReadDeadline(time.Time{})

	var msg protocol.NodeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return 0, err
	}
	if msg.Type != protocol.TypeAuthenticate {
		reject(conn, "authentication required")
		return 0, auth.ErrInvalidSecret
	}

	node, err := h.store.GetNodeByName(msg.NodeName)
	if err != nil || node.SecretHash == nil || !auth.CheckSecret(*node.SecretHash, msg.Secret) {
		reject(conn, "invalid credentials")
		return 0, auth.ErrInvalidSecret
	}

	id := node.ID
	_ = conn.WriteJSON(protocol.ServerMessage{
		Type:    protocol.TypeAuthResponse,
		Success: true,
		NodeID:  &id,
	})
	log.Info().Int("node_id", id).Str("node", node.Name).Msg("node authenticated")
	return id, nil
}

func reject(conn *websocket.Conn, reason string) {
	_ = conn.WriteJSON(protocol.ServerMessage{
		Type:    protocol.TypeAuthResponse,
		Success: false,
		Message: reason,
	})
}

// readLoop applies incoming frames in receipt order. Malformed frames
// are dropped silently and the channel stays open; a transport error
// ends the session.
func (h *Server) readLoop(sess *Session) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.NodeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Int("node_id", sess.nodeID).Msg("dropping malformed frame")
			continue
		}
		h.dispatch(sess, msg)
	}
}

func (h *Server) dispatch(sess *Session, msg protocol.NodeMessage) {
	switch msg.Type {
	case protocol.TypeHeartbeat:
		h.registry.UpdateTelemetry(sess.nodeID, fleet.Telemetry{
			ContentID: msg.ContentID,
			Position:  msg.Position,
			Duration:  msg.Duration,
			Status:    msg.Status,
		})
		_ = sess.Send(protocol.ServerMessage{
			Type:      protocol.TypeHeartbeatAck,
			Timestamp: time.Now().Unix(),
		})
		for _, e := range msg.Errors {
			log.Warn().Int("node_id", sess.nodeID).Str("error", e).Msg("node reported error")
		}

	case protocol.TypeRequestSchedule:
		// the node fetches the resolved timeline over the read API;
		// this just tells it the fetch is worth making now
		_ = sess.Send(protocol.ServerMessage{
			Type:      protocol.TypeScheduleUpdated,
			Timestamp: time.Now().Unix(),
		})

	case protocol.TypeReportPaths:
		log.Debug().Int("node_id", sess.nodeID).Int("paths", len(msg.Available)).Msg("node reported available paths")

	case protocol.TypeContentError:
		log.Error().
			Int("node_id", sess.nodeID).
			Interface("content_id", msg.ContentID).
			Str("error", msg.Error).
			Msg("node content error")

	case protocol.TypeLog:
		nodeLog(sess.nodeID, msg)

	default:
		// unknown types are dropped, same as malformed frames
	}
}

func nodeLog(nodeID int, msg protocol.NodeMessage) {
	var ev *zerolog.Event
	switch msg.Level {
	case "error":
		ev = log.Error()
	case "warn":
		ev = log.Warn()
	case "debug":
		ev = log.Debug()
	default:
		ev = log.Info()
	}
	ev.Int("node_id", nodeID).Str("target", msg.Target).Msg(msg.Message)
}
