package room

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

type State string

const (
	StateIdle   State = "IDLE"
	StateOpen   State = "OPEN"
	StateBuzzed State = "BUZZED"
)

func ParseState(s string) (State, bool) {
	switch State(strings.ToUpper(s)) {
	case StateIdle:
		return StateIdle, true
	case StateOpen:
		return StateOpen, true
	case StateBuzzed:
		return StateBuzzed, true
	}
	return "", false
}

// Winner is set by arbitration only; BuzzedAt is the commit clock reading,
// never a client-supplied timestamp.
type Winner struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	BuzzedAt   time.Time `json:"buzzed_at"`
}

// Room is the authoritative document for one session. Invariant:
// Winner != nil exactly when State == StateBuzzed.
type Room struct {
	Code      string    `json:"code"`
	State     State     `json:"state"`
	Winner    *Winner   `json:"winner,omitempty"`
	HostToken string    `json:"host_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) RedisKey() string {
	return RoomKey(r.Code)
}

type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joined_at"`
	LatencyMs *int64    `json:"latency_ms,omitempty"`
}

type EventKind string

const (
	EventRoom        EventKind = "room"
	EventPlayers     EventKind = "players"
	EventRoomDeleted EventKind = "room_deleted"
)

// Event is the feed envelope published on a room's channel. Every event is
// published inside the MULTI that committed the change it describes, so the
// channel carries events in commit order.
type Event struct {
	Kind    EventKind `json:"kind"`
	Room    *Room     `json:"room,omitempty"`
	Players []Player  `json:"players,omitempty"`
}

func RoomKey(code string) string {
	return "room:" + code
}

func PlayersKey(code string) string {
	return "room:" + code + ":players"
}

func ChannelKey(code string) string {
	return "room:" + code + ":feed"
}

const (
	CodeLength  = 4
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	MaxNameLength = 16
)

func NewCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// NormalizeCode uppercases user input; codes are case-insensitive on entry.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeCharset, rune(code[i])) {
			return false
		}
	}
	return true
}
