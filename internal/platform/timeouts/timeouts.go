// Package timeouts defines shared timing constants used across the service.
// Centralizing these values keeps the poll cadence, suppression window, and
// lease durations from drifting between components.
package timeouts

import "time"

// Poll is the fixed interval of the polling fallback read. The push channel
// is best-effort, so every round view polls at this cadence for its lifetime.
const Poll = 1250 * time.Millisecond

// Suppression is how long a just-submitted optimistic write shields the
// rendered state from being overwritten by in-flight push or poll payloads.
const Suppression = 400 * time.Millisecond

// BotLease is the time-boxed duration of a bot-controller claim. A holder
// must renew before expiry or another client may take over bot execution.
const BotLease = 10 * time.Second

// BotThinkMin and BotThinkMax bound the artificial delay before a bot acts.
const (
	BotThinkMin = 700 * time.Millisecond
	BotThinkMax = 2200 * time.Millisecond
)

// Resolving caps how long a terminal declaration waits for lay-off actions
// before the orchestrator forces scoring.
const Resolving = 15 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
