package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/broadcast"
	"github.com/Nixie-Tech-LLC/chorus/internal/config"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	"github.com/Nixie-Tech-LLC/chorus/internal/orchestrator"
	"github.com/Nixie-Tech-LLC/chorus/internal/redis"
	"github.com/Nixie-Tech-LLC/chorus/internal/timeline"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// initialize PostgreSQL
	if err := db.Init(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("db init failed")
	}

	// run pending migrations
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("db migrate failed")
	}

	redis.InitRedis(cfg.RedisAddress, cfg.RedisUsername, cfg.RedisPassword)

	store := db.NewStore(nil)
	registry := fleet.NewRegistry(store)
	resolver := timeline.NewResolver(store)

	var publisher *broadcast.Publisher
	if cfg.MQTTBrokerURL != "" {
		publisher, err = broadcast.Connect(cfg.MQTTBrokerURL)
		if err != nil {
			log.Fatal().Err(err).Msg("MQTT connect failed")
		}
		defer publisher.Close()
	}

	monitor := fleet.NewMonitor(registry, store, cfg.LivenessInterval, cfg.HeartbeatTimeout)
	monitor.Start()
	defer monitor.Stop()

	orch := orchestrator.New(registry, store, resolver, orchestrator.NewStaticSelector(store), cfg)
	orch.Start()
	defer orch.Stop()

	r := gin.Default()
	RegisterRoutes(r, cfg, store, registry, resolver, publisher)

	log.Info().Str("address", cfg.ServerAddress).Msg("listening")
	if err := r.Run(cfg.ServerAddress); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
