package bootstrap

import (
	"log/slog"
	"os"

	"github.com/eleven-am/buzzer-backend/internal/feed"
	"github.com/eleven-am/buzzer-backend/internal/health"
	"github.com/eleven-am/buzzer-backend/internal/probe"
	"github.com/eleven-am/buzzer-backend/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideRoomStore(redisClient *redis.Client, clock clockwork.Clock, logger *slog.Logger) *room.Store {
	return room.NewStore(redisClient, clock, logger)
}

func ProvideProber(redisClient *redis.Client, clock clockwork.Clock, logger *slog.Logger) *probe.Prober {
	return probe.NewProber(redisClient, clock, logger)
}

func ProvideRoomService(store *room.Store, prober *probe.Prober, clock clockwork.Clock, logger *slog.Logger) *room.Service {
	return room.NewService(store, prober, clock, logger)
}

func ProvideRoomHandler(service *room.Service, logger *slog.Logger) *room.Handler {
	return room.NewHandler(service, logger.With("handler", "room"))
}

func ProvideHealthHandler(redisClient *redis.Client, bridge *feed.Bridge, cfg *Config) *health.Handler {
	return health.NewHandler(redisClient, bridge, cfg.Version)
}

type HandlerParams struct {
	fx.In

	RoomHandler   *room.Handler
	WSServer      *feed.WSServer
	HealthHandler *health.Handler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")

	rooms := api.Group("/rooms")
	params.RoomHandler.RegisterRoutes(rooms)
	params.WSServer.RegisterRoutes(rooms)

	params.HealthHandler.RegisterRoutes(e)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideRoomStore,
		ProvideProber,
		ProvideRoomService,
		ProvideRoomHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
