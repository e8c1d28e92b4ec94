// Package app assembles the game service runtime: the record store, one
// orchestrator per live round, and the HTTP/websocket transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhappach/rule-your-poker/internal/platform/config"
	"github.com/jeremyhappach/rule-your-poker/internal/platform/id"
	"github.com/jeremyhappach/rule-your-poker/internal/platform/timeouts"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/api/ws"
	"github.com/jeremyhappach/rule-your-poker/internal/game/auth"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/bot"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/orchestrator"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage/memory"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage/sqlite"
	statesync "github.com/jeremyhappach/rule-your-poker/internal/game/sync"
)

// Config holds the game service runtime configuration.
type Config struct {
	// HTTPAddr is the listen address for the transport. Required.
	HTTPAddr string
	// DBPath is the SQLite database path. Empty selects the in-memory
	// store, which loses all rounds on restart.
	DBPath string
	// HolderID identifies this process in bot controller leases.
	HolderID string
	// Grants verifies seat grants. A zero config disables transport auth.
	Grants auth.SeatGrantConfig
	// BotDifficulty selects how the service's bots play. Empty means
	// standard.
	BotDifficulty bot.Difficulty

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type runtimeEnv struct {
	DBPath        string `env:"RYP_GAME_DB_PATH"`
	HolderID      string `env:"RYP_GAME_HOLDER_ID"`
	BotDifficulty string `env:"RYP_GAME_BOT_DIFFICULTY"`
}

var seatGrantEnvKeys = []string{
	"RYP_SEAT_GRANT_ISSUER",
	"RYP_SEAT_GRANT_AUDIENCE",
	"RYP_SEAT_GRANT_PUBLIC_KEY",
}

// LoadConfigFromEnv reads the runtime environment. Seat grant auth is
// enabled only when its env trio is present; a partial trio is an error.
func LoadConfigFromEnv() (Config, error) {
	var raw runtimeEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse game env: %w", err)
	}
	cfg := Config{
		DBPath:        strings.TrimSpace(raw.DBPath),
		HolderID:      strings.TrimSpace(raw.HolderID),
		BotDifficulty: bot.Difficulty(strings.TrimSpace(raw.BotDifficulty)),
	}
	if seatGrantEnvPresent() {
		grants, err := auth.LoadSeatGrantConfigFromEnv(nil)
		if err != nil {
			return Config{}, err
		}
		cfg.Grants = grants
	} else {
		log.Printf("seat grant env not set, transport auth disabled")
	}
	return cfg, nil
}

func seatGrantEnvPresent() bool {
	for _, key := range seatGrantEnvKeys {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			return true
		}
	}
	return false
}

// Server owns the runtime resources of the game service.
type Server struct {
	cfg        Config
	store      storage.Store
	closeStore func() error
	hub        *ws.Hub
	httpServer *http.Server

	mu         sync.Mutex
	rounds     map[string]*roundRuntime
	roundsCtx  context.Context
	stopRounds context.CancelFunc
}

type roundRuntime struct {
	orch        *orchestrator.Orchestrator
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewServer builds a configured game server.
func NewServer(cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	if strings.TrimSpace(cfg.HolderID) == "" {
		holder, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate holder id: %w", err)
		}
		cfg.HolderID = "game-" + holder
	}

	var store storage.Store
	var closeStore func() error
	if cfg.DBPath == "" {
		log.Printf("no database path configured, using in-memory record store")
		store = memory.NewStore(nil)
	} else {
		sqliteStore, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		store = sqliteStore
		closeStore = sqliteStore.Close
	}

	roundsCtx, stopRounds := context.WithCancel(context.Background())
	server := &Server{
		cfg:        cfg,
		store:      store,
		closeStore: closeStore,
		hub:        ws.NewHub(),
		rounds:     make(map[string]*roundRuntime),
		roundsCtx:  roundsCtx,
		stopRounds: stopRounds,
	}
	server.httpServer = &http.Server{
		Addr: httpAddr,
		Handler: ws.NewHandler(ws.HandlerConfig{
			Service: server,
			Hub:     server.hub,
			Lobby:   server,
			Grants:  cfg.Grants,
		}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return server, nil
}

// CreateRound deals a new round, persists it, and starts its orchestrator.
func (s *Server) CreateRound(ctx context.Context, req ws.CreateRoundRequest) (round.State, error) {
	roundID := strings.TrimSpace(req.RoundID)
	if roundID == "" {
		generated, err := id.NewID()
		if err != nil {
			return round.State{}, fmt.Errorf("generate round id: %w", err)
		}
		roundID = generated
	}

	actors := make([]round.ActorID, 0, len(req.Seats))
	bots := make(map[round.ActorID]bool, len(req.Seats))
	for _, seat := range req.Seats {
		actorID := round.ActorID(strings.TrimSpace(string(seat.ActorID)))
		if actorID == "" {
			return round.State{}, apperrors.New(apperrors.CodeRoundInvalidDeal, "seat actor_id is required")
		}
		actors = append(actors, actorID)
		if seat.IsBot {
			bots[actorID] = true
		}
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	state, err := engine.NewRound(roundID, req.GameType, actors, bots, req.DealerIndex, seed)
	if err != nil {
		return round.State{}, err
	}

	revision, err := s.store.Write(ctx, roundID, state)
	if err != nil {
		return round.State{}, err
	}
	state.Revision = revision
	log.Printf("round %s created: game=%s actors=%d bots=%d", roundID, req.GameType, len(actors), len(bots))

	// Start the round's orchestrator now so bot openers act without
	// waiting for the first client request.
	if _, err := s.runtime(ctx, roundID); err != nil {
		return round.State{}, err
	}
	return state, nil
}

// Submit forwards one action to the round's orchestrator.
func (s *Server) Submit(ctx context.Context, roundID string, action round.Action) (round.State, error) {
	rt, err := s.runtime(ctx, roundID)
	if err != nil {
		return round.State{}, err
	}
	state, err := rt.orch.Submit(ctx, action)
	if err != nil {
		return round.State{}, err
	}
	if state.Terminal() {
		s.release(roundID)
	}
	return state, nil
}

// State reads the latest authoritative state for the round.
func (s *Server) State(ctx context.Context, roundID string) (round.State, error) {
	return s.store.Read(ctx, roundID)
}

// runtime returns the round's orchestrator, creating and starting it on
// first use. The round must already exist in the store.
func (s *Server) runtime(ctx context.Context, roundID string) (*roundRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.rounds[roundID]; ok {
		return rt, nil
	}
	if _, err := s.store.Read(ctx, roundID); err != nil {
		return nil, err
	}

	reconciler := statesync.New(statesync.Config{
		OnStateChange: func(round.State) {},
	})
	orch := orchestrator.New(roundID, orchestrator.Config{
		Store:      s.store,
		Reconciler: reconciler,
		Broadcast:  s.hub,
		HolderID:   s.cfg.HolderID,
		Decide:     bot.Decider(s.cfg.BotDifficulty),
	})

	runCtx, cancel := context.WithCancel(s.roundsCtx)
	rt := &roundRuntime{
		orch:   orch,
		cancel: cancel,
		// Push-delivered states flow back through the hub so a session
		// reconciles writes accepted by another holder of the same room.
		unsubscribe: s.hub.Subscribe(roundID, orch.HandlePush),
	}
	s.rounds[roundID] = rt
	go func() {
		if err := orch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("round %s orchestrator stopped: %v", roundID, err)
		}
	}()
	return rt, nil
}

// release stops a round's orchestrator and forgets it.
func (s *Server) release(roundID string) {
	s.mu.Lock()
	rt, ok := s.rounds[roundID]
	delete(s.rounds, roundID)
	s.mu.Unlock()
	if !ok {
		return
	}
	rt.unsubscribe()
	rt.orch.Abandon()
	rt.cancel()
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("game server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("game server listening on %s", s.httpServer.Addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	rounds := make([]*roundRuntime, 0, len(s.rounds))
	for _, rt := range s.rounds {
		rounds = append(rounds, rt)
	}
	s.rounds = make(map[string]*roundRuntime)
	s.mu.Unlock()
	for _, rt := range rounds {
		rt.unsubscribe()
		rt.orch.Abandon()
		rt.cancel()
	}
	s.stopRounds()
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			log.Printf("close record store: %v", err)
		}
	}
}

// Run creates and serves a game server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init game server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve game: %w", err)
	}
	return nil
}
