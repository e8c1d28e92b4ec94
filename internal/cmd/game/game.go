// Package game parses game command flags and starts the round service.
package game

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/jeremyhappach/rule-your-poker/internal/platform/cmd"

	"github.com/jeremyhappach/rule-your-poker/internal/game/app"
)

// Config holds game command configuration.
type Config struct {
	Port int    `env:"RYP_GAME_PORT" envDefault:"8083"`
	Addr string `env:"RYP_GAME_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The game server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The game server listen address (overrides -port)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the game round service.
func Run(ctx context.Context, cfg Config) error {
	runtime, err := app.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.Addr != "" {
		runtime.HTTPAddr = cfg.Addr
	} else {
		runtime.HTTPAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return app.Run(ctx, runtime)
	})
}
