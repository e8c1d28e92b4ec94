package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"
	"google.golang.org/grpc/codes"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/auth"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

// Service is the action and state surface the transport exposes.
type Service interface {
	// Submit validates and persists one action for the round.
	Submit(ctx context.Context, roundID string, action round.Action) (round.State, error)
	// State returns the latest authoritative state for the round.
	State(ctx context.Context, roundID string) (round.State, error)
}

// Lobby creates rounds. Seat grants are minted per round, so creation is
// trusted to the fronting lobby rather than grant-authenticated here.
type Lobby interface {
	CreateRound(ctx context.Context, req CreateRoundRequest) (round.State, error)
}

// CreateRoundRequest is the POST body for round creation.
type CreateRoundRequest struct {
	RoundID     string        `json:"round_id,omitempty"`
	GameType    string        `json:"game_type"`
	Seats       []SeatRequest `json:"seats"`
	DealerIndex int           `json:"dealer_index,omitempty"`
	Seed        int64         `json:"seed,omitempty"`
}

// SeatRequest names one participant of a new round.
type SeatRequest struct {
	ActorID round.ActorID `json:"actor_id"`
	IsBot   bool          `json:"is_bot,omitempty"`
}

// HandlerConfig wires the transport.
type HandlerConfig struct {
	// Service handles actions and state reads. Required.
	Service Service
	// Hub fans accepted states out to websocket peers. Required.
	Hub *Hub
	// Lobby creates rounds. Optional; without it the create route is absent.
	Lobby Lobby
	// Grants verifies seat grants. A zero config disables auth, for tests
	// and offline paths.
	Grants auth.SeatGrantConfig
}

func (c HandlerConfig) authEnabled() bool {
	return len(c.Grants.Key) > 0
}

// NewHandler creates the round transport routes.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Service == nil {
		panic("ws: Service is required")
	}
	if cfg.Hub == nil {
		panic("ws: Hub is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, cfg)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	if cfg.Lobby != nil {
		mux.HandleFunc("/v1/rounds", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			handleCreateRound(w, r, cfg)
		})
	}

	mux.HandleFunc("/v1/rounds/", func(w http.ResponseWriter, r *http.Request) {
		roundID, rest, ok := splitRoundPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch {
		case rest == "state" && r.Method == http.MethodGet:
			handlePollState(w, r, cfg, roundID)
		case rest == "actions" && r.Method == http.MethodPost:
			handleSubmitAction(w, r, cfg, roundID)
		default:
			http.NotFound(w, r)
		}
	})

	return mux
}

// splitRoundPath extracts the round id and trailing segment from
// /v1/rounds/{id}/{rest}.
func splitRoundPath(path string) (roundID, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/v1/rounds/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// viewerFromRequest resolves the seat grant on the request, when auth is
// enabled. An absent grant leaves the viewer empty (spectator redaction).
func viewerFromRequest(r *http.Request, cfg HandlerConfig, roundID string) (round.ActorID, error) {
	grant := bearerToken(r)
	if !cfg.authEnabled() {
		return "", nil
	}
	if grant == "" {
		return "", nil
	}
	claims, err := auth.ValidateSeatGrant(grant, auth.SeatGrantExpectation{RoundID: roundID}, cfg.Grants)
	if err != nil {
		return "", err
	}
	return round.ActorID(claims.ActorID), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return strings.TrimSpace(r.URL.Query().Get("grant"))
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func handlePollState(w http.ResponseWriter, r *http.Request, cfg HandlerConfig, roundID string) {
	viewer, err := viewerFromRequest(r, cfg, roundID)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := cfg.Service.State(r.Context(), roundID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, state.RedactFor(viewer))
}

// actionRequest is the POST body for action submission.
type actionRequest struct {
	Type    round.ActionType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

func handleSubmitAction(w http.ResponseWriter, r *http.Request, cfg HandlerConfig, roundID string) {
	var viewer round.ActorID
	if cfg.authEnabled() {
		grant := bearerToken(r)
		claims, err := auth.ValidateSeatGrant(grant, auth.SeatGrantExpectation{RoundID: roundID}, cfg.Grants)
		if err != nil {
			writeError(w, err)
			return
		}
		viewer = round.ActorID(claims.ActorID)
	} else {
		// Without auth the actor comes from a header, for tests and
		// local development.
		viewer = round.ActorID(strings.TrimSpace(r.Header.Get("X-Actor-ID")))
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var request actionRequest
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed action body", err))
		return
	}

	state, err := cfg.Service.Submit(r.Context(), roundID, round.Action{
		Type:    request.Type,
		ActorID: viewer,
		Payload: request.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeState(w, state.RedactFor(viewer))
}

func handleCreateRound(w http.ResponseWriter, r *http.Request, cfg HandlerConfig) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var request CreateRoundRequest
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed create body", err))
		return
	}

	state, err := cfg.Lobby.CreateRound(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	document, err := state.RedactFor("").Marshal()
	if err != nil {
		log.Printf("ws: encode created round %s: %v", state.RoundID, err)
		return
	}
	_, _ = w.Write(document)
}

func writeState(w http.ResponseWriter, state round.State) {
	document, err := state.Marshal()
	if err != nil {
		http.Error(w, "encode state", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(document)
}

// errorBody is the JSON error envelope for HTTP rejections.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Code:    string(apperrors.GetCode(err)),
		Message: err.Error(),
		Details: apperrors.GetMetadata(err),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		log.Printf("ws: encode error body: %v", encodeErr)
	}
}

// httpStatus maps the domain error taxonomy onto HTTP via the canonical
// gRPC codes.
func httpStatus(err error) int {
	switch apperrors.GetCode(err).GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleWSConn serves one websocket connection: the peer subscribes to a
// round and receives redacted state frames until it disconnects.
func handleWSConn(conn *websocket.Conn, cfg HandlerConfig) {
	defer func() { _ = conn.Close() }()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	var room *roundRoom
	defer func() {
		if room != nil {
			room.leave(peer)
		}
	}()

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("ws: decode frame: %v", err)
			}
			return
		}

		if frame.Type != frameSubscribe {
			_ = peer.writeFrame(wsFrame{
				Type:  frameError,
				Error: &wsError{Code: string(apperrors.CodeIllegalTarget), Message: "unknown frame type"},
			})
			continue
		}
		roundID := strings.TrimSpace(frame.RoundID)
		if roundID == "" {
			_ = peer.writeFrame(wsFrame{
				Type:  frameError,
				Error: &wsError{Code: string(apperrors.CodeIllegalTarget), Message: "round_id is required"},
			})
			continue
		}

		// Leave the previous room before rebinding the viewer, so a
		// concurrent broadcast never redacts for the wrong seat.
		if room != nil {
			room.leave(peer)
			room = nil
		}

		if cfg.authEnabled() {
			claims, err := auth.ValidateSeatGrant(frame.Grant, auth.SeatGrantExpectation{RoundID: roundID}, cfg.Grants)
			if err != nil {
				_ = peer.writeFrame(wsFrame{
					Type:    frameError,
					RoundID: roundID,
					Error:   &wsError{Code: string(apperrors.GetCode(err)), Message: err.Error()},
				})
				continue
			}
			peer.setViewer(round.ActorID(claims.ActorID))
		}

		room = cfg.Hub.room(roundID)
		room.join(peer)

		// Send the current state so the client renders before the first
		// broadcast.
		ctx := context.Background()
		if request := conn.Request(); request != nil {
			ctx = request.Context()
		}
		state, err := cfg.Service.State(ctx, roundID)
		if err != nil {
			_ = peer.writeFrame(wsFrame{
				Type:    frameError,
				RoundID: roundID,
				Error:   &wsError{Code: string(apperrors.GetCode(err)), Message: err.Error()},
			})
			continue
		}
		initial, err := stateFrame(roundID, state, peer.viewerID())
		if err != nil {
			log.Printf("ws: encode state for round %s: %v", roundID, err)
			continue
		}
		if err := peer.writeFrame(initial); err != nil {
			return
		}
	}
}
