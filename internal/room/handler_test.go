package room

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/buzzer-backend/internal/dto"
	"github.com/eleven-am/buzzer-backend/internal/probe"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

func newTestAPI(t *testing.T) *echo.Echo {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(client, clock, logger)
	prober := probe.NewProber(client, clock, logger)
	service := NewService(store, prober, clock, logger)

	e := echo.New()
	NewHandler(service, logger).RegisterRoutes(e.Group("/v1/rooms"))
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPI_SessionFlow(t *testing.T) {
	e := newTestAPI(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/rooms", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[dto.CreateRoomResponse](t, rec)
	if created.Code == "" || created.HostToken == "" {
		t.Fatalf("incomplete create response: %+v", created)
	}
	base := "/v1/rooms/" + created.Code

	rec = doJSON(t, e, http.MethodPost, base+"/players", dto.JoinRequest{Name: "Alice"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("join: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	alice := decode[dto.JoinResponse](t, rec)

	rec = doJSON(t, e, http.MethodPost, base+"/state", dto.SetStateRequest{State: "OPEN"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, base+"/buzz", dto.BuzzRequest{PlayerID: alice.PlayerID, PlayerName: "Alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("buzz: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	buzz := decode[dto.BuzzResponse](t, rec)
	if buzz.Result != string(BuzzWon) {
		t.Errorf("expected won, got %s", buzz.Result)
	}
	if buzz.Winner == nil || buzz.Winner.PlayerID != alice.PlayerID {
		t.Errorf("unexpected winner: %+v", buzz.Winner)
	}

	rec = doJSON(t, e, http.MethodPost, base+"/buzz", dto.BuzzRequest{PlayerID: "plr_late", PlayerName: "Bob"})
	buzz = decode[dto.BuzzResponse](t, rec)
	if buzz.Result != string(BuzzLost) {
		t.Errorf("expected late buzz to lose, got %s", buzz.Result)
	}

	rec = doJSON(t, e, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	snap := decode[dto.RoomResponse](t, rec)
	if snap.State != "BUZZED" || snap.Winner == nil {
		t.Errorf("expected settled room, got %+v", snap)
	}
	if len(snap.Players) != 1 || snap.Players[0].Quality != "unknown" {
		t.Errorf("unexpected roster: %+v", snap.Players)
	}

	rec = doJSON(t, e, http.MethodPost, base+"/latency", dto.LatencyRequest{PlayerID: alice.PlayerID})
	if rec.Code != http.StatusOK {
		t.Fatalf("latency: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	lat := decode[dto.LatencyResponse](t, rec)
	if !lat.Probed || lat.LatencyMs == nil {
		t.Errorf("expected a live probe, got %+v", lat)
	}

	rec = doJSON(t, e, http.MethodDelete, base+"/players/"+alice.PlayerID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("kick: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, e, http.MethodDelete, base, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("end: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodGet, base, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after session end, got %d", rec.Code)
	}
}

func TestAPI_InvalidCode(t *testing.T) {
	e := newTestAPI(t)

	rec := doJSON(t, e, http.MethodGet, "/v1/rooms/toolong1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed code, got %d", rec.Code)
	}
}

func TestAPI_RoomNotFound(t *testing.T) {
	e := newTestAPI(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/rooms/ZZZZ/players", dto.JoinRequest{Name: "Alice"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_CodeIsCaseInsensitive(t *testing.T) {
	e := newTestAPI(t)

	created := decode[dto.CreateRoomResponse](t, doJSON(t, e, http.MethodPost, "/v1/rooms", nil))

	rec := doJSON(t, e, http.MethodGet, "/v1/rooms/"+strings.ToLower(created.Code), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected lowercase code to resolve, got %d", rec.Code)
	}
}

func TestAPI_SetState_Invalid(t *testing.T) {
	e := newTestAPI(t)
	created := decode[dto.CreateRoomResponse](t, doJSON(t, e, http.MethodPost, "/v1/rooms", nil))
	base := "/v1/rooms/" + created.Code

	rec := doJSON(t, e, http.MethodPost, base+"/state", dto.SetStateRequest{State: "LOCKED"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown state, got %d", rec.Code)
	}

	rec = doJSON(t, e, http.MethodPost, base+"/state", dto.SetStateRequest{State: "BUZZED"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for host-set BUZZED, got %d", rec.Code)
	}
}

func TestAPI_Join_InvalidName(t *testing.T) {
	e := newTestAPI(t)
	created := decode[dto.CreateRoomResponse](t, doJSON(t, e, http.MethodPost, "/v1/rooms", nil))

	rec := doJSON(t, e, http.MethodPost, "/v1/rooms/"+created.Code+"/players", dto.JoinRequest{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty name, got %d", rec.Code)
	}
}

func TestAPI_Buzz_MissingPlayerID(t *testing.T) {
	e := newTestAPI(t)
	created := decode[dto.CreateRoomResponse](t, doJSON(t, e, http.MethodPost, "/v1/rooms", nil))

	rec := doJSON(t, e, http.MethodPost, "/v1/rooms/"+created.Code+"/buzz", dto.BuzzRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing player_id, got %d", rec.Code)
	}
}
