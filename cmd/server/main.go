package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kmoran/regionwars/internal/auth"
	"github.com/kmoran/regionwars/internal/bot"
	"github.com/kmoran/regionwars/internal/config"
	"github.com/kmoran/regionwars/internal/handler"
	"github.com/kmoran/regionwars/internal/logger"
	"github.com/kmoran/regionwars/internal/middleware"
	"github.com/kmoran/regionwars/internal/repository"
	"github.com/kmoran/regionwars/internal/repository/postgres"
	redisrepo "github.com/kmoran/regionwars/internal/repository/redis"
	"github.com/kmoran/regionwars/internal/service"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	log.Info().Str("port", cfg.Port).Msg("Config loaded")

	// Turn archive (optional): resolved turns are written here for the
	// history API. Live games never read it back.
	var archive repository.TurnArchive
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()

		repo, err := postgres.NewTurnRepo(db)
		if err != nil {
			log.Fatal().Err(err).Msg("Turn repo init failed")
		}
		if err := repo.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Turn repo migration failed")
		}
		archive = repo
	} else {
		log.Warn().Msg("DATABASE_URL not set, turn history disabled")
	}

	// State mirror (optional): latest snapshot and resolution events go
	// out to Redis for external observers.
	var mirror repository.StateMirror
	if cfg.RedisURL != "" {
		client, err := redisrepo.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer client.Close()
		mirror = client
	} else {
		log.Warn().Msg("REDIS_URL not set, state mirror disabled")
	}

	wsHub := handler.NewHub()
	registry := service.NewRegistry()

	turnSvc := service.NewTurnService(registry, wsHub, archive, mirror)
	turnSvc.SetPlanner(bot.NewHeuristic())
	sessionSvc := service.NewSessionService(registry, wsHub, turnSvc)

	tokens := auth.NewTokenManager(cfg.JWTSecret)

	gameHandler := handler.NewGameHandler(sessionSvc, archive)
	wsHandler := handler.NewWSHandler(wsHub, sessionSvc, turnSvc, tokens)

	// Default game, so a fresh server is joinable without an API call.
	lobby, err := sessionSvc.CreateGame(cfg.Lobby.Name, cfg.Lobby.TurnTime, cfg.Lobby.Map, cfg.Lobby.Bots)
	if err != nil {
		log.Fatal().Err(err).Msg("Default game creation failed")
	}
	log.Info().Str("gameId", lobby.ID).Str("name", lobby.Name).Msg("Default game created")

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /api/v1/games", gameHandler.CreateGame)
	mux.HandleFunc("GET /api/v1/games", gameHandler.ListGames)
	mux.HandleFunc("GET /api/v1/games/{id}", gameHandler.GetGame)
	mux.HandleFunc("GET /api/v1/games/{id}/state", gameHandler.GetState)
	mux.HandleFunc("GET /api/v1/games/{id}/turns", gameHandler.ListTurns)
	mux.HandleFunc("GET /api/v1/games/{id}/turns/{turn}", gameHandler.GetTurn)

	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
