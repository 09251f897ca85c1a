package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/config"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, secret string) (*Server, *ledger.MemoryLedger) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	err := l.CreatePending(context.Background(), &models.GameRecord{
		Kind:       models.KindCoinFlip,
		GameID:     1,
		Player:     "0xabc",
		UserID:     "alice",
		BetAmount:  decimal.RequireFromString("0.01"),
		GuessIndex: -1,
	})
	if err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	s := NewServer(config.ServerConfig{JWTSecret: secret}, l, notify.NewHub(0), monitor.NewTestMonitor())
	return s, l
}

func token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return signed
}

func get(s *Server, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	w := get(s, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	s.monitor.IncTxSent(chain.MethodSettleFlip)
	w := get(s, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "contract_calls_total") {
		t.Errorf("Unexpected metrics response %d: %s", w.Code, w.Body.String())
	}
}

func TestGetGame(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	alice := token(t, "alice", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		path   string
		bearer string
		code   int
	}{
		{"owner", "/api/games/coin_flip/1", alice, http.StatusOK},
		{"kind alias", "/api/games/flip/1", alice, http.StatusOK},
		{"no token", "/api/games/coin_flip/1", "", http.StatusUnauthorized},
		{"bad token", "/api/games/coin_flip/1", "nope", http.StatusUnauthorized},
		{"expired", "/api/games/coin_flip/1", token(t, "alice", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"other user", "/api/games/coin_flip/1", token(t, "bob", time.Now().Add(time.Hour)), http.StatusForbidden},
		{"missing", "/api/games/coin_flip/2", alice, http.StatusNotFound},
		{"bad kind", "/api/games/poker/1", alice, http.StatusBadRequest},
		{"bad id", "/api/games/coin_flip/x", alice, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(s, tt.path, tt.bearer)
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	w := get(s, "/api/games/coin_flip/1", alice)
	var rec models.GameRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if rec.GameID != 1 || rec.UserID != "alice" || !rec.BetAmount.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Unexpected record %+v", rec)
	}
}

func TestGetGame_QueryToken(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	w := get(s, "/api/games/coin_flip/1?token="+token(t, "alice", time.Now().Add(time.Hour)), "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestGetGame_AuthDisabled(t *testing.T) {
	s, _ := newTestServer(t, "")
	if w := get(s, "/api/games/coin_flip/1", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 without a secret, got %d", w.Code)
	}
}

func TestWatcherStateChanged(t *testing.T) {
	s, _ := newTestServer(t, testSecret)
	ctx := context.Background()

	check := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := s.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) failed: %v", service, err)
		}
		return resp.Status
	}

	if got := check(""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected overall SERVING, got %s", got)
	}
	s.WatcherStateChanged("randomness", chain.Reconnecting)
	if got := check("randomness"); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %s", got)
	}
	s.WatcherStateChanged("randomness", chain.Connected)
	if got := check("randomness"); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", got)
	}
}

func TestParseToken(t *testing.T) {
	sub, err := ParseToken(testSecret, token(t, "carol", time.Now().Add(time.Minute)))
	if err != nil || sub != "carol" {
		t.Errorf("Expected carol, got %q (%v)", sub, err)
	}
	if _, err := ParseToken("other-secret", token(t, "carol", time.Now().Add(time.Minute))); err == nil {
		t.Error("Expected a signature error")
	}
	if _, err := ParseToken(testSecret, token(t, "", time.Now().Add(time.Minute))); err == nil {
		t.Error("Expected an error for an empty subject")
	}
}
