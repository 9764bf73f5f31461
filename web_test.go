package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

func TestServeVersion(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	errs := make(chan error, 8)

	mux := httprouter.New()
	mux.GET("/version", serveVersion(cfg, errs))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/version", nil))

	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), "headliner v"+releaseVersion)
}

func TestServeHealthCheck(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	errs := make(chan error, 8)

	mux := httprouter.New()
	mux.GET("/healthz", serveHealthCheck(cfg, errs))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("Ok\n", w.Body.String())
}

func TestServeRoomStateUnknownRoom(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	mgr := newRoomManager(deckOf(30), 0)

	mux := httprouter.New()
	mux.GET("/play/:roomid/state", serveRoomState(cfg, mgr))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/play/ghost/state", nil))

	assert.Equal(http.StatusNotFound, w.Code)

	_, ok := mgr.lookup("ghost")
	assert.False(ok, "the state endpoint must never create a room")
}

func TestServeRoomState(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	mgr := newRoomManager(deckOf(30), 0)

	rm := mgr.getRoom(cfg, "R1")
	alice := attach(rm)
	join(rm, cfg, alice, "Alice")

	mux := httprouter.New()
	mux.GET("/play/:roomid/state", serveRoomState(cfg, mgr))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/play/R1/state", nil))

	assert.Equal(http.StatusOK, w.Code)

	var state roomState
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal("R1", state.RoomID)
	assert.Equal([]string{"Alice"}, state.Players)
	assert.Equal(1, state.Turn)
	assert.Equal("collecting", state.Phase)
	assert.Equal(23, state.DeckSize)
}

func TestQRHandler(t *testing.T) {
	assert := assert.New(t)

	mux := httprouter.New()
	mux.GET("/play/:roomid/qr", qrHandler)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/play/R1/qr", nil))

	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(w.Body.Bytes())
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig()
	assert.NoError(cfg.validate())

	cfg = testConfig()
	cfg.port = 0
	assert.Error(cfg.validate())

	cfg = testConfig()
	cfg.tlsCert = "cert.pem"
	assert.Error(cfg.validate(), "tls cert without key must be refused")

	cfg = testConfig()
	cfg.handSize = 1
	assert.Error(cfg.validate())

	cfg = testConfig()
	cfg.maxTurns = -1
	assert.Error(cfg.validate())
}
