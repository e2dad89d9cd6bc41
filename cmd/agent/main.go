// The agent is the node-side daemon: it keeps the command channel open,
// reports playback telemetry, and forwards commands to the local player.
// Media rendering itself lives behind PlayerControl; this binary ships
// with a logging stub so the channel behavior can run anywhere.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/channel"
	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

// PlayerControl is the local media-player boundary.
type PlayerControl interface {
	Play()
	Pause()
	Stop()
	Seek(position float64)
	Load(contentID int, path *string)
	State() (contentID *int, position, duration float64, status string)
}

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	url := os.Getenv("CHORUS_URL")
	nodeName := os.Getenv("NODE_NAME")
	secret := os.Getenv("NODE_SECRET")
	if url == "" || nodeName == "" || secret == "" {
		log.Fatal().Msg("CHORUS_URL, NODE_NAME and NODE_SECRET are required")
	}

	player := &loggingPlayer{}

	client := &channel.Client{
		URL:               url,
		NodeName:          nodeName,
		Secret:            secret,
		HeartbeatInterval: 10 * time.Second,
		BackoffInitial:    5 * time.Second,
		BackoffMax:        5 * time.Minute,
		Telemetry: func() protocol.NodeMessage {
			contentID, position, duration, status := player.State()
			return protocol.NodeMessage{
				ContentID: contentID,
				Position:  &position,
				Duration:  &duration,
				Status:    status,
			}
		},
		OnMessage: func(msg protocol.ServerMessage) {
			handleMessage(player, msg)
		},
		OnConnect: func(nodeID int) {
			log.Info().Int("node_id", nodeID).Msg("channel established")
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	client.Run(ctx)
}

func handleMessage(player PlayerControl, msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeCommand:
		handleCommand(player, msg)
	case protocol.TypeScheduleUpdated:
		log.Info().Int64("timestamp", msg.Timestamp).Msg("schedule updated upstream")
	}
}

func handleCommand(player PlayerControl, msg protocol.ServerMessage) {
	switch msg.Action {
	case protocol.ActionPlay:
		player.Play()
	case protocol.ActionPause:
		player.Pause()
	case protocol.ActionStop:
		player.Stop()
	case protocol.ActionSeek:
		if msg.Position != nil {
			player.Seek(*msg.Position)
		}
	case protocol.ActionLoadContent:
		if msg.ContentID != nil {
			player.Load(*msg.ContentID, msg.Path)
		}
	case protocol.ActionReloadSchedule:
		log.Info().Msg("reload_schedule received")
	case protocol.ActionShutdown:
		log.Info().Msg("shutdown requested by orchestrator")
		os.Exit(0)
	case protocol.ActionInjectAudio:
		log.Info().Str("url", msg.URL).Msg("inject_audio received")
	default:
		log.Debug().Str("action", msg.Action).Msg("ignoring unknown command")
	}
}

// loggingPlayer satisfies PlayerControl without any media backend.
type loggingPlayer struct {
	mu        sync.Mutex
	contentID *int
	position  float64
	duration  float64
	status    string
}

func (p *loggingPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = "playing"
	log.Info().Msg("player: play")
}

func (p *loggingPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = "paused"
	log.Info().Msg("player: pause")
}

func (p *loggingPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentID = nil
	p.position = 0
	p.duration = 0
	p.status = "idle"
	log.Info().Msg("player: stop")
}

func (p *loggingPlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	log.Info().Float64("position", position).Msg("player: seek")
}

func (p *loggingPlayer) Load(contentID int, path *string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentID = &contentID
	p.position = 0
	p.status = "playing"
	if path != nil {
		log.Info().Int("content_id", contentID).Str("path", *path).Msg("player: load")
	} else {
		log.Info().Int("content_id", contentID).Msg("player: load")
	}
}

func (p *loggingPlayer) State() (*int, float64, float64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentID, p.position, p.duration, p.status
}
