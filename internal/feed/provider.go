package feed

import (
	"log/slog"

	"github.com/eleven-am/buzzer-backend/internal/room"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideBridge(lc fx.Lifecycle, redisClient *redis.Client, store *room.Store, logger *slog.Logger) *Bridge {
	bridge := NewBridge(redisClient, store, logger)
	lc.Append(fx.StopHook(bridge.Close))
	return bridge
}

func ProvideWSServer(bridge *Bridge, logger *slog.Logger) *WSServer {
	return NewWSServer(bridge, logger)
}

var Module = fx.Options(
	fx.Provide(
		ProvideBridge,
		ProvideWSServer,
	),
)
