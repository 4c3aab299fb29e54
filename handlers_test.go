package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// withTestServer points the handler globals at a fresh engine for the
// duration of one test.
func withTestServer(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t)
	oldEngine, oldHub := engine, hub
	engine, hub = e, newHub(e)
	t.Cleanup(func() { engine, hub = oldEngine, oldHub })
	return e
}

func postJSON(t *testing.T, handler http.HandlerFunc, url, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateAndJoinOverHTTP(t *testing.T) {
	e := withTestServer(t)

	rec := postJSON(t, handleCreateGame, "/api/game/create", `{"name":"Mod"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}

	// A fresh browser gets an identity cookie
	res := rec.Result()
	var identity *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == identityCookie {
			identity = c
		}
	}
	if identity == nil {
		t.Fatal("no identity cookie set on first contact")
	}

	var created struct {
		Game struct {
			Code  string `json:"code"`
			Phase Phase  `json:"phase"`
		} `json:"game"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.Game.Code) != 6 || created.Game.Phase != PhaseLobby {
		t.Fatalf("unexpected game in response: %+v", created.Game)
	}

	rec = postJSON(t, handleJoinGame, "/api/game/join",
		`{"code":"`+created.Game.Code+`","name":"Alice"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join status %d: %s", rec.Code, rec.Body.String())
	}

	// The roster is visible through the read endpoint
	req := httptest.NewRequest(http.MethodGet, "/api/game?code="+created.Game.Code, nil)
	getRec := httptest.NewRecorder()
	handleGetGame(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", getRec.Code, getRec.Body.String())
	}
	var got struct {
		Game GameSnapshot `json:"game"`
	}
	if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(got.Game.Players) != 2 {
		t.Errorf("expected host and Alice, got %d players", len(got.Game.Players))
	}

	// Engine agrees
	g, err := e.GameByCode(created.Game.Code)
	if err != nil {
		t.Fatalf("game by code: %v", err)
	}
	if g.Phase != PhaseLobby {
		t.Errorf("expected lobby, got %s", g.Phase)
	}
}

func TestJoinUnknownCodeOverHTTP(t *testing.T) {
	withTestServer(t)

	rec := postJSON(t, handleJoinGame, "/api/game/join", `{"code":"999999","name":"Alice"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != string(KindNotFound) {
		t.Errorf("expected kind not_found, got %q", body.Kind)
	}
}

func TestCreateGameTwiceOverHTTP(t *testing.T) {
	withTestServer(t)

	rec := postJSON(t, handleCreateGame, "/api/game/create", `{"name":"Mod"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d", rec.Code)
	}
	cookies := rec.Result().Cookies()

	rec = postJSON(t, handleCreateGame, "/api/game/create", `{"name":"Mod"}`, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double hosting, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGameQROverHTTP(t *testing.T) {
	e := withTestServer(t)
	g, _, err := e.CreateGame("Mod", testHostIdentity)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/game/qr?code="+g.Code, nil)
	rec := httptest.NewRecorder()
	handleGameQR(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("qr status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty QR image")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/game/qr?code=000001", nil)
	rec = httptest.NewRecorder()
	handleGameQR(rec, req)
	if g.Code != "000001" && rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown code, got %d", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[ErrorKind]int{
		KindNotFound:          http.StatusNotFound,
		KindForbidden:         http.StatusForbidden,
		KindConflict:          http.StatusConflict,
		KindCapacity:          http.StatusConflict,
		KindInvalidTransition: http.StatusConflict,
		KindValidation:        http.StatusBadRequest,
		KindUnavailable:       http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}
