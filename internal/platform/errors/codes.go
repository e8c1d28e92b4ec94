package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Turn validation errors
	CodeNotYourTurn   Code = "NOT_YOUR_TURN"
	CodeWrongPhase    Code = "WRONG_PHASE"
	CodeIllegalTarget Code = "ILLEGAL_TARGET"

	// Round errors
	CodeRoundComplete      Code = "ROUND_COMPLETE"
	CodeRoundUnknownActor  Code = "ROUND_UNKNOWN_ACTOR"
	CodeRoundUnknownAction Code = "ROUND_UNKNOWN_ACTION"
	CodeRoundInvalidDeal   Code = "ROUND_INVALID_DEAL"

	// Persistence errors
	CodeWriteConflict Code = "WRITE_CONFLICT"
	CodeNotFound      Code = "NOT_FOUND"

	// Transport errors
	CodeTransportFailure Code = "TRANSPORT_FAILURE"

	// Bot controller errors
	CodeBotControllerLost Code = "BOT_CONTROLLER_LOST"
	CodeLeaseHeld         Code = "LEASE_HELD"

	// Seat grant errors
	CodeSeatGrantInvalid  Code = "SEAT_GRANT_INVALID"
	CodeSeatGrantExpired  Code = "SEAT_GRANT_EXPIRED"
	CodeSeatGrantMismatch Code = "SEAT_GRANT_MISMATCH"
)

// GRPCCode maps domain codes to gRPC canonical status codes. The HTTP and
// websocket surfaces serialize these so browser clients share one taxonomy.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed or illegal input
	case CodeIllegalTarget,
		CodeRoundUnknownAction,
		CodeRoundInvalidDeal:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the operation
	case CodeNotYourTurn,
		CodeWrongPhase,
		CodeRoundComplete,
		CodeLeaseHeld:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency loss, retry after re-read
	case CodeWriteConflict,
		CodeBotControllerLost:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeRoundUnknownActor:
		return codes.NotFound

	// Unauthenticated - seat grant problems
	case CodeSeatGrantInvalid,
		CodeSeatGrantExpired,
		CodeSeatGrantMismatch:
		return codes.Unauthenticated

	// Unavailable - transient transport problems
	case CodeTransportFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
