package room

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/eleven-am/buzzer-backend/internal/probe"
	"github.com/eleven-am/buzzer-backend/internal/shared"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const codeAttempts = 5

var (
	ErrNoFreeCode  = errors.New("no free room code")
	ErrInvalidName = errors.New("invalid player name")

	// BUZZED is reachable only through arbitration; a host cannot set it.
	ErrStateNotSettable = errors.New("state not settable")
)

// Service is the session coordinator: it allocates room codes, routes host
// and player commands into the store, and owns the probe suppression rule.
type Service struct {
	store  *Store
	prober *probe.Prober
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewService(store *Store, prober *probe.Prober, clock clockwork.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		prober: prober,
		clock:  clock,
		logger: logger.With("component", "room_service"),
	}
}

// CreateRoom allocates a fresh code, retrying on collision with a live room.
func (s *Service) CreateRoom(ctx context.Context) (*Room, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}

		r := &Room{
			Code:      code,
			State:     StateIdle,
			HostToken: uuid.NewString(),
			CreatedAt: s.clock.Now().UTC(),
		}

		err = s.store.CreateRoom(ctx, r)
		if errors.Is(err, shared.ErrConflict) {
			s.logger.Debug("room code collision, retrying", "code", code)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("room created", "code", code)
		return r, nil
	}
	return nil, ErrNoFreeCode
}

func (s *Service) RoomExists(ctx context.Context, code string) (bool, error) {
	_, err := s.store.GetRoom(ctx, code)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Snapshot(ctx context.Context, code string) (*Room, []Player, error) {
	r, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	players, err := s.store.ListPlayers(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	return r, players, nil
}

func (s *Service) SetState(ctx context.Context, code string, next State) (*Room, error) {
	if next == StateBuzzed {
		return nil, ErrStateNotSettable
	}
	return s.store.SetState(ctx, code, next)
}

func (s *Service) Buzz(ctx context.Context, code, playerID, playerName string) (BuzzResult, *Room, error) {
	return s.store.AttemptBuzz(ctx, code, playerID, playerName)
}

func (s *Service) Join(ctx context.Context, code, name string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}

	p := &Player{
		ID:       shared.NewID("plr_"),
		Name:     name,
		JoinedAt: s.clock.Now().UTC(),
	}
	if err := s.store.AddPlayer(ctx, code, p); err != nil {
		return nil, err
	}

	s.logger.Info("player joined", "room", code, "player_id", p.ID)
	return p, nil
}

func (s *Service) Kick(ctx context.Context, code, playerID string) error {
	return s.store.RemovePlayer(ctx, code, playerID)
}

type LatencyResult struct {
	LatencyMs *int64
	Quality   probe.Quality
	Probed    bool
}

// MeasureLatency runs one probe round trip and records the sample. Probing
// is suppressed while the buzz window is open so probe traffic cannot
// perturb arbitration; the retained sample is reported instead.
func (s *Service) MeasureLatency(ctx context.Context, code, playerID string) (*LatencyResult, error) {
	r, err := s.store.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	if r.State == StateOpen {
		retained := s.retainedLatency(ctx, code, playerID)
		return &LatencyResult{
			LatencyMs: retained,
			Quality:   probe.QualityFor(retained),
			Probed:    false,
		}, nil
	}

	ms, err := s.prober.Measure(ctx, RoomKey(code))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateLatency(ctx, code, playerID, ms); err != nil {
		return nil, err
	}

	return &LatencyResult{
		LatencyMs: &ms,
		Quality:   probe.QualityFor(&ms),
		Probed:    true,
	}, nil
}

func (s *Service) retainedLatency(ctx context.Context, code, playerID string) *int64 {
	players, err := s.store.ListPlayers(ctx, code)
	if err != nil {
		return nil
	}
	for _, p := range players {
		if p.ID == playerID {
			return p.LatencyMs
		}
	}
	return nil
}

// EndSession is best-effort cleanup; in-flight operations against the
// deleted room surface RoomNotFound on their own.
func (s *Service) EndSession(ctx context.Context, code string) error {
	if err := s.store.DeleteRoom(ctx, code); err != nil {
		return err
	}
	s.logger.Info("session ended", "room", code)
	return nil
}
