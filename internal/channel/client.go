package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

// Client is the node-side end of the command channel. Run keeps one
// connection alive: full handshake on every attempt, exponential
// backoff between attempts, backoff reset after any successful connect.
type Client struct {
	URL      string
	NodeName string
	Secret   string

	HeartbeatInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration

	// Telemetry supplies the heartbeat payload; Type is filled in here.
	Telemetry func() protocol.NodeMessage
	// OnMessage receives every server frame after auth.
	OnMessage func(protocol.ServerMessage)
	// OnConnect fires after a successful handshake.
	OnConnect func(nodeID int)

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NextBackoff doubles the current wait, capped at max.
func NextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// Run dials and serves until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := c.BackoffInitial
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// we had a working session; start the backoff ladder over
			backoff = c.BackoffInitial
		} else {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("connection attempt failed")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = NextBackoff(backoff, c.BackoffMax)
	}
}

// connect performs one full session: dial, handshake, heartbeats and
// reads until the connection drops. A nil return means the handshake
// succeeded and the session ran for a while.
func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer conn.Close()

	if err := c.writeJSON(protocol.NodeMessage{
		Type:     protocol.TypeAuthenticate,
		NodeName: c.NodeName,
		Secret:   c.Secret,
	}); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}

	var resp protocol.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if resp.Type != protocol.TypeAuthResponse || !resp.Success {
		return fmt.Errorf("authentication rejected: %s", resp.Message)
	}

	nodeID := 0
	if resp.NodeID != nil {
		nodeID = *resp.NodeID
	}
	log.Info().Int("node_id", nodeID).Msg("connected to orchestrator")
	if c.OnConnect != nil {
		c.OnConnect(nodeID)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.heartbeatLoop(hbCtx)
	}()
	// join the heartbeat loop before this session ends: a heartbeat
	// racing the next connect must not land on the fresh connection
	// ahead of its handshake
	defer func() {
		cancel()
		_ = conn.Close() // unblocks a heartbeat stuck mid-write
		<-hbDone
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
	}()

	for {
		var msg protocol.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("channel read failed, reconnecting")
			return nil
		}
		if msg.Type == protocol.TypeHeartbeatAck {
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := c.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// first heartbeat goes out immediately so the server sees telemetry
	// before the first sweep
	c.sendHeartbeat()
	for {
		select {
		case <-ticker.C:
			c.sendHeartbeat()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendHeartbeat() {
	var msg protocol.NodeMessage
	if c.Telemetry != nil {
		msg = c.Telemetry()
	}
	msg.Type = protocol.TypeHeartbeat
	if err := c.writeJSON(msg); err != nil {
		log.Debug().Err(err).Msg("heartbeat write failed")
	}
}

// writeJSON serializes socket writes: heartbeats and log reports come
// from different goroutines.
func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errSessionClosed
	}
	return c.conn.WriteJSON(v)
}

// ReportLog forwards a node-local log line to the server.
func (c *Client) ReportLog(level, target, message string) {
	err := c.writeJSON(protocol.NodeMessage{
		Type:      protocol.TypeLog,
		Level:     level,
		Target:    target,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Debug().Err(err).Msg("log report write failed")
	}
}

// ReportContentError forwards a playback failure for one item.
func (c *Client) ReportContentError(contentID int, cause string) {
	id := contentID
	err := c.writeJSON(protocol.NodeMessage{
		Type:      protocol.TypeContentError,
		ContentID: &id,
		Error:     cause,
	})
	if err != nil {
		log.Debug().Err(err).Msg("content error write failed")
	}
}
