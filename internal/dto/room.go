package dto

import "time"

type CreateRoomResponse struct {
	Code      string `json:"code" example:"K7X2"`
	HostToken string `json:"host_token" example:"7f6c2e9a-1f6e-4b7c-9a8e-2d3f4b5c6d7e"`
}

type WinnerResponse struct {
	PlayerID   string    `json:"player_id" example:"plr_abc123"`
	PlayerName string    `json:"player_name" example:"Alice"`
	BuzzedAt   time.Time `json:"buzzed_at"`
}

type PlayerResponse struct {
	ID        string `json:"id" example:"plr_abc123"`
	Name      string `json:"name" example:"Alice"`
	LatencyMs *int64 `json:"latency_ms,omitempty" example:"85"`
	Quality   string `json:"quality" example:"excellent"`
}

type RoomResponse struct {
	Code      string           `json:"code" example:"K7X2"`
	State     string           `json:"state" example:"OPEN"`
	Winner    *WinnerResponse  `json:"winner,omitempty"`
	Players   []PlayerResponse `json:"players"`
	CreatedAt time.Time        `json:"created_at"`
}

type SetStateRequest struct {
	State string `json:"state" example:"OPEN"`
}

type JoinRequest struct {
	Name string `json:"name" example:"Alice"`
}

type JoinResponse struct {
	PlayerID string `json:"player_id" example:"plr_abc123"`
}

type BuzzRequest struct {
	PlayerID   string `json:"player_id" example:"plr_abc123"`
	PlayerName string `json:"player_name" example:"Alice"`
}

type BuzzResponse struct {
	Result string          `json:"result" example:"won"`
	Winner *WinnerResponse `json:"winner,omitempty"`
}

type LatencyRequest struct {
	PlayerID string `json:"player_id" example:"plr_abc123"`
}

type LatencyResponse struct {
	LatencyMs *int64 `json:"latency_ms,omitempty" example:"85"`
	Quality   string `json:"quality" example:"excellent"`
	Probed    bool   `json:"probed" example:"true"`
}
