package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/eleven-am/buzzer-backend/internal/shared"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	// Rooms are ephemeral; the TTL is a safety net for sessions the host
	// never ended explicitly.
	roomTTL = 12 * time.Hour

	txMaxRetries = 5
)

type BuzzResult string

const (
	BuzzWon  BuzzResult = "won"
	BuzzLost BuzzResult = "lost"
)

var (
	errTooLate = errors.New("too late")
	errNoop    = errors.New("no-op")
)

// Store owns the authoritative room and player documents. Every mutation is
// a WATCH read-modify-write that publishes the committed value on the room's
// channel inside the same MULTI, so subscribers observe changes in commit
// order.
type Store struct {
	redis  *redis.Client
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewStore(redisClient *redis.Client, clock clockwork.Clock, logger *slog.Logger) *Store {
	return &Store{
		redis:  redisClient,
		clock:  clock,
		logger: logger.With("component", "room_store"),
	}
}

func (s *Store) CreateRoom(ctx context.Context, r *Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, r.RedisKey(), data, roomTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrConflict
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, code string) (*Room, error) {
	data, err := s.redis.Get(ctx, RoomKey(code)).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetState is the host's unconditional transition. Moving anywhere but
// BUZZED clears the winner in the same commit so a stale winner cannot leak
// into the next round. Conflicts are retried; a host command is
// last-writer-wins, so a retry cannot change fairness.
func (s *Store) SetState(ctx context.Context, code string, next State) (*Room, error) {
	var updated *Room
	txf := func(tx *redis.Tx) error {
		r, err := getRoomTx(ctx, tx, code)
		if err != nil {
			return err
		}

		r.State = next
		if next != StateBuzzed {
			r.Winner = nil
		}

		if err := s.commitRoom(ctx, tx, r); err != nil {
			return err
		}
		updated = r
		return nil
	}

	for i := 0; i < txMaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, RoomKey(code))
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, shared.ErrConflict
}

// AttemptBuzz is the arbitration point. The precondition (room exists, state
// OPEN, no winner) and the winning write are one WATCH transaction; whichever
// concurrent attempt commits first wins, and everyone else loses. A
// TxFailedErr means another writer committed between our read and EXEC;
// retrying would only re-run the precondition against that commit, so the
// conflict resolves directly to a loss.
func (s *Store) AttemptBuzz(ctx context.Context, code, playerID, playerName string) (BuzzResult, *Room, error) {
	var updated *Room
	txf := func(tx *redis.Tx) error {
		r, err := getRoomTx(ctx, tx, code)
		if err != nil {
			return err
		}

		// Once a winner exists every further attempt loses, the winner's
		// own retries included.
		if r.State != StateOpen || r.Winner != nil {
			return errTooLate
		}

		r.State = StateBuzzed
		r.Winner = &Winner{
			PlayerID:   playerID,
			PlayerName: playerName,
			BuzzedAt:   s.clock.Now().UTC(),
		}

		if err := s.commitRoom(ctx, tx, r); err != nil {
			return err
		}
		updated = r
		return nil
	}

	err := s.redis.Watch(ctx, txf, RoomKey(code))
	switch {
	case err == nil:
		return BuzzWon, updated, nil
	case errors.Is(err, errTooLate):
		return BuzzLost, nil, nil
	case err == redis.TxFailedErr:
		s.logger.Debug("buzz lost on transaction conflict", "room", code, "player_id", playerID)
		return BuzzLost, nil, nil
	default:
		return "", nil, err
	}
}

// AddPlayer registers a joined participant. The WATCH covers the room key so
// a join racing room deletion either sees the room or fails with
// RoomNotFound; no partial player record survives either way.
func (s *Store) AddPlayer(ctx context.Context, code string, p *Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		if err := roomExistsTx(ctx, tx, code); err != nil {
			return err
		}

		players, err := playersTx(ctx, tx, code)
		if err != nil {
			return err
		}
		players = append(players, *p)

		return s.commitPlayers(ctx, tx, code, players, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, PlayersKey(code), p.ID, data)
			pipe.Expire(ctx, PlayersKey(code), roomTTL)
		})
	}
	return s.watchPlayers(ctx, code, txf)
}

// RemovePlayer is idempotent; removing an absent player publishes nothing.
func (s *Store) RemovePlayer(ctx context.Context, code, playerID string) error {
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, PlayersKey(code)).Result()
		if err != nil {
			return err
		}
		if _, ok := fields[playerID]; !ok {
			return errNoop
		}
		delete(fields, playerID)

		players, err := decodePlayers(fields)
		if err != nil {
			return err
		}

		return s.commitPlayers(ctx, tx, code, players, func(pipe redis.Pipeliner) {
			pipe.HDel(ctx, PlayersKey(code), playerID)
		})
	}

	err := s.watchPlayers(ctx, code, txf)
	if errors.Is(err, errNoop) {
		return nil
	}
	return err
}

// UpdateLatency overwrites a player's latency sample. A probe response that
// raced a kick or a room deletion must not resurrect the record, so a write
// to an absent player or room is dropped and logged, never an error.
func (s *Store) UpdateLatency(ctx context.Context, code, playerID string, ms int64) error {
	txf := func(tx *redis.Tx) error {
		if err := roomExistsTx(ctx, tx, code); err != nil {
			return err
		}

		fields, err := tx.HGetAll(ctx, PlayersKey(code)).Result()
		if err != nil {
			return err
		}
		raw, ok := fields[playerID]
		if !ok {
			return errNoop
		}

		var p Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		p.LatencyMs = &ms

		data, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		fields[playerID] = string(data)

		players, err := decodePlayers(fields)
		if err != nil {
			return err
		}

		return s.commitPlayers(ctx, tx, code, players, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, PlayersKey(code), playerID, data)
		})
	}

	err := s.watchPlayers(ctx, code, txf)
	if errors.Is(err, errNoop) || errors.Is(err, shared.ErrNotFound) {
		s.logger.Debug("dropping stale latency sample", "room", code, "player_id", playerID)
		return nil
	}
	return err
}

func (s *Store) ListPlayers(ctx context.Context, code string) ([]Player, error) {
	n, err := s.redis.Exists(ctx, RoomKey(code)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, shared.ErrNotFound
	}

	fields, err := s.redis.HGetAll(ctx, PlayersKey(code)).Result()
	if err != nil {
		return nil, err
	}
	return decodePlayers(fields)
}

// DeleteRoom removes the room and its players and signals the deletion to
// subscribers as a distinct event. Idempotent.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	event, err := json.Marshal(Event{Kind: EventRoomDeleted})
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		if err := roomExistsTx(ctx, tx, code); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, RoomKey(code), PlayersKey(code))
			pipe.Publish(ctx, ChannelKey(code), event)
			return nil
		})
		return err
	}

	for i := 0; i < txMaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, RoomKey(code))
		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	return shared.ErrConflict
}

func (s *Store) commitRoom(ctx context.Context, tx *redis.Tx, r *Room) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	event, err := json.Marshal(Event{Kind: EventRoom, Room: r})
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.RedisKey(), payload, roomTTL)
		pipe.Publish(ctx, ChannelKey(r.Code), event)
		return nil
	})
	return err
}

func (s *Store) commitPlayers(ctx context.Context, tx *redis.Tx, code string, players []Player, mutate func(redis.Pipeliner)) error {
	event, err := json.Marshal(Event{Kind: EventPlayers, Players: players})
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		mutate(pipe)
		pipe.Publish(ctx, ChannelKey(code), event)
		return nil
	})
	return err
}

// watchPlayers serializes registry writes for one room so every published
// player list reflects a consistent post-commit view. Registry conflicts are
// fairness-neutral and retried.
func (s *Store) watchPlayers(ctx context.Context, code string, txf func(*redis.Tx) error) error {
	for i := 0; i < txMaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, RoomKey(code), PlayersKey(code))
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return shared.ErrConflict
}

func getRoomTx(ctx context.Context, tx *redis.Tx, code string) (*Room, error) {
	data, err := tx.Get(ctx, RoomKey(code)).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func roomExistsTx(ctx context.Context, tx *redis.Tx, code string) error {
	n, err := tx.Exists(ctx, RoomKey(code)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func playersTx(ctx context.Context, tx *redis.Tx, code string) ([]Player, error) {
	fields, err := tx.HGetAll(ctx, PlayersKey(code)).Result()
	if err != nil {
		return nil, err
	}
	return decodePlayers(fields)
}

func decodePlayers(fields map[string]string) ([]Player, error) {
	players := make([]Player, 0, len(fields))
	for _, raw := range fields {
		var p Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}

	// Display ordering only; join order is not an invariant.
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players, nil
}
