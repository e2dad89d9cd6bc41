// Package nodes exposes the node-facing and operator-facing read/
// control endpoints: resolved timelines, fleet status, manual command
// injection, and device pairing.
package nodes

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/auth"
	"github.com/Nixie-Tech-LLC/chorus/internal/broadcast"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	"github.com/Nixie-Tech-LLC/chorus/internal/http/middleware"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
	redisclient "github.com/Nixie-Tech-LLC/chorus/internal/redis"
	"github.com/Nixie-Tech-LLC/chorus/internal/timeline"
)

const pairingTTL = 15 * time.Minute

type Controller struct {
	store     db.Store
	registry  *fleet.Registry
	resolver  *timeline.Resolver
	publisher *broadcast.Publisher // nil when MQTT is disabled
}

func NewController(store db.Store, registry *fleet.Registry, resolver *timeline.Resolver, publisher *broadcast.Publisher) *Controller {
	return &Controller{store: store, registry: registry, resolver: resolver, publisher: publisher}
}

// RegisterAdminRoutes mounts the operator endpoints (bearer JWT).
func RegisterAdminRoutes(r gin.IRoutes, ctl *Controller) {
	r.GET("/fleet", ctl.fleetStatus)
	r.POST("/nodes/:id/command", ctl.sendCommand)
	r.POST("/nodes/pair", ctl.claimPairing)
	r.POST("/broadcast", ctl.broadcastCommand)
}

// RegisterTimelineRoute mounts the resolved-timeline read, reachable by
// admins and by the node itself.
func RegisterTimelineRoute(r gin.IRoutes, ctl *Controller) {
	r.GET("/nodes/:id/timeline", ctl.getTimeline)
}

// RegisterAgentRoutes mounts the unauthenticated agent endpoints.
func RegisterAgentRoutes(r gin.IRoutes, ctl *Controller) {
	r.POST("/pair", ctl.announcePairing)
}

// timelineEntry mirrors model.CollapsedBlock with a wall-clock start
type timelineEntry struct {
	Start           string `json:"start"`
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
	ContentID       *int   `json:"content_id"`
	HookID          *int   `json:"hook_id"`
	VoiceProfileID  *int   `json:"voice_profile_id"`
	ScheduleID      int    `json:"schedule_id"`
	ScheduleName    string `json:"schedule_name"`
	Priority        int    `json:"priority"`
}

// GET /api/nodes/:id/timeline?date=2025-06-01
func (t *Controller) getTimeline(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return
	}
	node, err := t.store.GetNodeByID(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}

	loc := node.Location()
	date := time.Now().In(loc)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	blocks, err := t.resolver.Resolve(id, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve timeline"})
		return
	}

	out := make([]timelineEntry, len(blocks))
	for i, b := range blocks {
		out[i] = timelineEntry{
			Start:           fmt.Sprintf("%02d:%02d", b.StartMinute/60, b.StartMinute%60),
			StartMinute:     b.StartMinute,
			DurationMinutes: b.DurationMinutes,
			ContentID:       b.ContentID,
			HookID:          b.HookID,
			VoiceProfileID:  b.VoiceProfileID,
			ScheduleID:      b.ScheduleID,
			ScheduleName:    b.ScheduleName,
			Priority:        b.Priority,
		}
	}
	c.JSON(http.StatusOK, out)
}

type fleetEntry struct {
	NodeID           int     `json:"node_id"`
	Status           string  `json:"status"`
	HeartbeatAgeSecs float64 `json:"heartbeat_age_seconds"`
	ContentID        *int    `json:"content_id"`
	Position         float64 `json:"position"`
	Duration         float64 `json:"duration"`
	PlayerStatus     string  `json:"player_status"`
}

// GET /api/admin/fleet
func (t *Controller) fleetStatus(c *gin.Context) {
	if _, ok := middleware.GetCurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	snaps := t.registry.Snapshots()
	out := make([]fleetEntry, len(snaps))
	now := time.Now()
	for i, s := range snaps {
		out[i] = fleetEntry{
			NodeID:           s.NodeID,
			Status:           s.StatusString(),
			HeartbeatAgeSecs: now.Sub(s.LastHeartbeat).Seconds(),
			ContentID:        s.ContentID,
			Position:         s.Position,
			Duration:         s.Duration,
			PlayerStatus:     s.PlayerStatus,
		}
	}
	c.JSON(http.StatusOK, out)
}

type commandRequest struct {
	Action    string   `json:"action" binding:"required"`
	Position  *float64 `json:"position"`
	ContentID *int     `json:"content_id"`
	Path      *string  `json:"path"`
	URL       string   `json:"url"`
	Mix       *float64 `json:"mix"`
}

func (r commandRequest) message() protocol.ServerMessage {
	return protocol.ServerMessage{
		Type:      protocol.TypeCommand,
		Action:    r.Action,
		Position:  r.Position,
		ContentID: r.ContentID,
		Path:      r.Path,
		URL:       r.URL,
		Mix:       r.Mix,
	}
}

// POST /api/admin/nodes/:id/command
func (t *Controller) sendCommand(c *gin.Context) {
	if _, ok := middleware.GetCurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, _ := strconv.Atoi(c.Param("id"))

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := t.registry.Lookup(id)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "node not connected"})
		return
	}
	if err := sess.Send(req.message()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not deliver command"})
		return
	}
	c.Status(http.StatusOK)
}

// POST /api/admin/broadcast
func (t *Controller) broadcastCommand(c *gin.Context) {
	if _, ok := middleware.GetCurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := req.message()

	delivered := 0
	for _, snap := range t.registry.Snapshots() {
		if sess, ok := t.registry.Lookup(snap.NodeID); ok {
			if err := sess.Send(msg); err == nil {
				delivered++
			}
		}
	}
	if t.publisher != nil {
		if err := t.publisher.PublishAll(msg); err != nil {
			log.Warn().Err(err).Msg("MQTT broadcast failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// POST /api/agent/pair — an unpaired agent announces itself and shows
// the returned code on screen for an operator to claim.
func (t *Controller) announcePairing(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code := pairingCode()
	redisclient.Set(c, "pairing:"+code, req.DeviceID, pairingTTL)
	c.JSON(http.StatusOK, gin.H{"code": code, "expires_in_seconds": int(pairingTTL.Seconds())})
}

// POST /api/admin/nodes/pair — claims a pairing code, binds the device
// to a node row and mints its shared secret. The plaintext secret is
// returned exactly once.
func (t *Controller) claimPairing(c *gin.Context) {
	if _, ok := middleware.GetCurrentUser(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		PairingCode string `json:"code" binding:"required"`
		NodeID      int    `json:"node_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := "pairing:" + req.PairingCode
	deviceID, err := redisclient.Rdb.Get(c, key).Result()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired pairing code"})
		return
	}
	redisclient.Rdb.Del(c, key)

	secret := newSecret()
	hash, err := auth.HashSecret(secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mint secret"})
		return
	}

	if err := t.store.AssignDeviceIDToNode(req.NodeID, &deviceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update node device ID"})
		return
	}
	if err := t.store.SetNodeSecret(req.NodeID, hash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store node secret"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": "node paired successfully", "secret": secret})
}

func pairingCode() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newSecret() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
