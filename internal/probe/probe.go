package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

var ErrProbeFailed = errors.New("probe failed")

const probeTimeout = 5 * time.Second

// Quality is a display bucket for a round-trip sample. It is cosmetic and
// never feeds into arbitration.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

func QualityFor(ms *int64) Quality {
	if ms == nil {
		return QualityUnknown
	}
	switch {
	case *ms < 100:
		return QualityExcellent
	case *ms < 200:
		return QualityGood
	case *ms < 400:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Prober measures one minimal round trip against the coordination point (a
// single key read on the shared Redis). The elapsed time is display-only.
type Prober struct {
	redis  *redis.Client
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewProber(redisClient *redis.Client, clock clockwork.Clock, logger *slog.Logger) *Prober {
	return &Prober{
		redis:  redisClient,
		clock:  clock,
		logger: logger.With("component", "prober"),
	}
}

// Measure returns the elapsed round-trip time in milliseconds, or
// ErrProbeFailed. A failed probe never panics the caller; the caller keeps
// the previous sample.
func (p *Prober) Measure(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := p.clock.Now()
	if err := p.redis.Exists(ctx, key).Err(); err != nil {
		p.logger.Warn("probe round trip failed", "key", key, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return p.clock.Since(start).Milliseconds(), nil
}
