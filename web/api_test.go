package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/activitypub"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/util"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	server *Server
	router http.Handler
	store  *db.DB
	alice  domain.Actor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := log.New(io.Discard)

	store, err := db.Open(":memory:", db.Options{Logger: logger, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	origin, err := store.EnsureOrigin(ctx, domain.Origin{Name: "example.com", Type: domain.OriginActivityPub, Host: "example.com"})
	if err != nil {
		t.Fatalf("ensure origin: %v", err)
	}

	reg := prometheus.NewRegistry()
	engine := activitypub.NewEngine(store, activitypub.EngineConfig{
		Logger:  logger,
		Metrics: activitypub.NewMetrics(reg),
	})
	alice, err := engine.AddAccount(ctx, domain.Actor{Origin: origin, Oid: "https://example.com/users/alice", Username: "alice"})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 9990
	server := NewServer(conf, store, engine, []domain.Actor{alice}, reg, logger)
	return &testServer{server: server, router: server.Router(), store: store, alice: alice}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func mentionOfAlice(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "Create",
		"actor": {"id": "https://example.com/users/bob", "type": "Person", "preferredUsername": "bob"},
		"published": %q,
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"cc": ["https://example.com/users/alice"],
		"object": {"id": "https://example.com/notes/1", "type": "Note", "content": "<p>Hello @alice</p>",
			"attributedTo": "https://example.com/users/bob"}
	}`, id, time.Now().UTC().Add(-time.Minute).Format(time.RFC3339))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(RequestIdHeader) == "" {
		t.Error("Expected a request id header")
	}
}

func TestIngestThenReadBack(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/ingest", mentionOfAlice("https://example.com/activities/1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[map[string]any](t, w)
	if res["outcome"] != "inserted" || res["interaction"] != "Mention" {
		t.Errorf("Unexpected ingest result: %v", res)
	}

	w = ts.do(t, "POST", "/api/ingest?account=alice@example.com", mentionOfAlice("https://example.com/activities/1"))
	if w.Code != http.StatusOK {
		t.Fatalf("Repeated ingest should not insert again, got %d: %s", w.Code, w.Body.String())
	}

	notifications := decode[[]notificationView](t, ts.do(t, "GET", "/api/notifications?unseen=true", ""))
	if len(notifications) != 1 {
		t.Fatalf("Expected 1 unseen notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.Interaction != "Mention" || n.ActorName != "bob@example.com" || !n.Unseen {
		t.Errorf("Unexpected notification: %+v", n)
	}

	note := decode[noteView](t, ts.do(t, "GET", fmt.Sprintf("/api/notes/%d", n.NoteId), ""))
	if note.Content != "Hello @alice" || note.Status != "Loaded" || note.Visibility != "public" {
		t.Errorf("Unexpected note: %+v", note)
	}
	if len(note.Audience) != 1 || note.Audience[0] != ts.alice.ActorId {
		t.Errorf("Expected alice as the only recipient, got %v", note.Audience)
	}

	actor := decode[actorView](t, ts.do(t, "GET", fmt.Sprintf("/api/actors/%d", n.ActorId), ""))
	if actor.Username != "bob" || actor.Oid != "https://example.com/users/bob" {
		t.Errorf("Unexpected actor: %+v", actor)
	}

	found := decode[map[string][]int64](t, ts.do(t, "GET", "/api/notes?q=HELLO", ""))
	if len(found["ids"]) != 1 || found["ids"][0] != n.NoteId {
		t.Errorf("Expected search to find note %d, got %v", n.NoteId, found)
	}

	w = ts.do(t, "POST", fmt.Sprintf("/api/notifications/seen?upTo=%d", n.ActivityId), "")
	if marked := decode[map[string]int64](t, w)["marked"]; marked != 1 {
		t.Errorf("Expected 1 marked, got %d", marked)
	}
	if unseen := decode[[]notificationView](t, ts.do(t, "GET", "/api/notifications?unseen=true", "")); len(unseen) != 0 {
		t.Errorf("Expected no unseen notifications, got %d", len(unseen))
	}
	if all := decode[[]notificationView](t, ts.do(t, "GET", "/api/notifications", "")); len(all) != 1 {
		t.Errorf("Seen notifications should still be listed, got %d", len(all))
	}
}

func TestIngestRejects(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"broken json", "/api/ingest", `{"id":`, http.StatusBadRequest},
		{"unknown account", "/api/ingest?account=nobody@example.org", mentionOfAlice("a1"), http.StatusNotFound},
		{"unsupported type", "/api/ingest", `{"id": "b1", "type": "Block", "actor": "https://example.com/users/bob", "object": "https://example.com/users/alice"}`, http.StatusUnprocessableEntity},
		{"too large", "/api/ingest", strings.Repeat(" ", maxIngestBody+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, "POST", tt.target, tt.body); w.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestPointReadErrors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		target string
		status int
	}{
		{"/api/actors/9999", http.StatusNotFound},
		{"/api/actors/abc", http.StatusBadRequest},
		{"/api/notes/9999", http.StatusNotFound},
		{"/api/notes/0", http.StatusBadRequest},
		{"/api/notes", http.StatusBadRequest},
		{"/api/notifications?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := ts.do(t, "GET", tt.target, ""); w.Code != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.target, tt.status, w.Code)
		}
	}
	if w := ts.do(t, "POST", "/api/notifications/seen", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without upTo, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/ingest", mentionOfAlice("https://example.com/activities/m1"))

	w := ts.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `fedimerge_ingest_total{outcome="inserted",verb="Create"} 1`) {
		t.Errorf("Expected ingest counter in metrics, got:\n%s", body)
	}
	if !strings.Contains(body, "fedimerge_actor_resolves_total") {
		t.Error("Expected actor resolve counter in metrics")
	}
}

func TestAccountSelection(t *testing.T) {
	ts := newTestServer(t)
	if a, ok := ts.server.account(""); !ok || a.ActorId != ts.alice.ActorId {
		t.Error("Empty account should select the first configured one")
	}
	if _, ok := ts.server.account("acct:ALICE@example.com"); !ok {
		t.Error("Account lookup should normalize the address")
	}
	empty := NewServer(ts.server.conf, ts.store, nil, nil, nil, nil)
	if _, ok := empty.account(""); ok {
		t.Error("No account configured should select nothing")
	}
}
