package engine

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]RuleSet)
)

// Register adds a rule set to the engine registry. Rule sets register from
// their package init; duplicate names panic at startup rather than racing.
func Register(rules RuleSet) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := rules.Name()
	if name == "" {
		panic("engine: rule set with empty name")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine: rule set %q registered twice", name))
	}
	registry[name] = rules
}

// Lookup returns the rule set for a game type.
func Lookup(gameType string) (RuleSet, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	rules, ok := registry[gameType]
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeRoundUnknownAction,
			"unknown game type",
			map[string]string{"game_type": gameType},
		)
	}
	return rules, nil
}

// GameTypes lists the registered rule set names, sorted.
func GameTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
