package api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erazemk/posodi/internal/auth"
	"github.com/erazemk/posodi/internal/db"
	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/session"
	"github.com/erazemk/posodi/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	db     *sql.DB
	hub    *feed.Hub
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	hub := feed.NewHub()
	t.Cleanup(hub.Close)

	sessions := &session.Manager{
		DB:                  database,
		Secret:              testJWTSecret,
		Deployment:          "test",
		DefaultNeighborhood: "elm-street",
		Hub:                 hub,
	}

	server := httptest.NewServer(LoggingMiddleware(NewRouter(database, sessions, hub)))
	t.Cleanup(server.Close)
	return testEnv{server: server, db: database, hub: hub}
}

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return setupTestEnv(t).server
}

type startedSession struct {
	Token   string        `json:"token"`
	Created bool          `json:"created"`
	Profile model.Profile `json:"profile"`
}

// signIn starts a new anonymous session.
func signIn(t *testing.T, server *httptest.Server) startedSession {
	t.Helper()
	resp := do(t, http.MethodPost, server.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign-in failed: %d", resp.StatusCode)
	}
	var s startedSession
	decode(t, resp, &s)
	if s.Token == "" {
		t.Fatal("empty token from sign-in")
	}
	return s
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: expected %d, got %d (%s)", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body["error"])
	}
}

func shareItem(t *testing.T, server *httptest.Server, token, name string) model.Item {
	t.Helper()
	resp := do(t, http.MethodPost, server.URL+"/api/items", token, map[string]string{
		"name":        name,
		"description": "A " + strings.ToLower(name) + " in good shape",
	})
	expectStatus(t, resp, http.StatusCreated)
	var item model.Item
	decode(t, resp, &item)
	return item
}

func requestItem(t *testing.T, server *httptest.Server, token, itemID string) model.Request {
	t.Helper()
	resp := do(t, http.MethodPost, server.URL+"/api/requests", token, map[string]string{
		"item_id":     itemID,
		"borrow_date": "2026-05-01",
		"return_date": "2026-05-03",
	})
	expectStatus(t, resp, http.StatusCreated)
	var req model.Request
	decode(t, resp, &req)
	return req
}

func TestStartSessionCreatesProfile(t *testing.T) {
	server := setupTestServer(t)

	s := signIn(t, server)
	if !s.Created {
		t.Error("expected a new profile")
	}
	if !strings.HasPrefix(s.Profile.DisplayName, "Neighbor ") {
		t.Errorf("expected generated display name, got %q", s.Profile.DisplayName)
	}
	if s.Profile.Neighborhood != "elm-street" {
		t.Errorf("expected default neighborhood, got %q", s.Profile.Neighborhood)
	}

	resp := do(t, http.MethodGet, server.URL+"/api/session", s.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	var profile model.Profile
	decode(t, resp, &profile)
	if profile.UserID != s.Profile.UserID {
		t.Errorf("expected %s, got %s", s.Profile.UserID, profile.UserID)
	}
}

func TestStartSessionWithBootstrapToken(t *testing.T) {
	server := setupTestServer(t)
	bootstrap, err := auth.GenerateBootstrapToken(testJWTSecret, "user-7", "test", time.Hour)
	if err != nil {
		t.Fatalf("minting bootstrap token: %v", err)
	}

	for i, wantCreated := range []bool{true, false} {
		resp := do(t, http.MethodPost, server.URL+"/api/session", "", map[string]string{"token": bootstrap})
		expectStatus(t, resp, http.StatusOK)
		var s startedSession
		decode(t, resp, &s)
		if s.Profile.UserID != "user-7" {
			t.Errorf("sign-in %d: expected user-7, got %s", i, s.Profile.UserID)
		}
		if s.Created != wantCreated {
			t.Errorf("sign-in %d: expected created=%v", i, wantCreated)
		}
	}

	resp := do(t, http.MethodPost, server.URL+"/api/session", "", map[string]string{"token": "garbage"})
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestUnauthenticatedRequests(t *testing.T) {
	server := setupTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/api/items", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, http.MethodGet, server.URL+"/api/items", "not-a-token", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestShareAndBrowse(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)
	bob := signIn(t, server)

	drill := shareItem(t, server, alice.Token, "Drill")
	if drill.Status != model.ItemStatusAvailable || drill.OwnerName != alice.Profile.DisplayName {
		t.Errorf("unexpected item: %+v", drill)
	}

	var items []model.Item
	resp := do(t, http.MethodGet, server.URL+"/api/items", alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &items)
	if len(items) != 0 {
		t.Errorf("owner should not browse own items, got %d", len(items))
	}

	resp = do(t, http.MethodGet, server.URL+"/api/items", bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &items)
	if len(items) != 1 || items[0].ID != drill.ID {
		t.Errorf("expected bob to see the drill, got %+v", items)
	}

	resp = do(t, http.MethodGet, server.URL+"/api/items/mine", alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &items)
	if len(items) != 1 {
		t.Errorf("expected 1 item in inventory, got %d", len(items))
	}

	resp = do(t, http.MethodGet, server.URL+"/api/items/"+drill.ID, bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	var detail map[string]json.RawMessage
	decode(t, resp, &detail)
	if _, ok := detail["requests"]; ok {
		t.Error("only the owner should see an item's requests")
	}

	resp = do(t, http.MethodGet, server.URL+"/api/items/missing", bob.Token, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestShareRequiresNameAndDescription(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)

	resp := do(t, http.MethodPost, server.URL+"/api/items", alice.Token, map[string]string{"name": "  ", "description": "x"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = do(t, http.MethodPost, server.URL+"/api/items", alice.Token, map[string]string{"name": "Saw"})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestBorrowLifecycle(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)
	bob := signIn(t, server)
	carol := signIn(t, server)

	drill := shareItem(t, server, alice.Token, "Drill")
	req := requestItem(t, server, bob.Token, drill.ID)
	if req.Status != model.RequestStatusPending || req.ItemName != "Drill" || req.BorrowerName != bob.Profile.DisplayName {
		t.Errorf("unexpected request: %+v", req)
	}
	other := requestItem(t, server, carol.Token, drill.ID)

	var incoming []model.Request
	resp := do(t, http.MethodGet, server.URL+"/api/requests/incoming", alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &incoming)
	if len(incoming) != 2 {
		t.Fatalf("expected 2 incoming requests, got %d", len(incoming))
	}

	// Only the owner may approve.
	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+req.ID+"/approve", bob.Token, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+req.ID+"/approve", alice.Token, map[string]string{"notes": "charged"})
	expectStatus(t, resp, http.StatusOK)
	var approved model.Request
	decode(t, resp, &approved)
	if approved.Status != model.RequestStatusApproved || approved.CheckoutNotes != "charged" {
		t.Errorf("unexpected approval: %+v", approved)
	}

	// The drill is out: nobody else can borrow it.
	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+other.ID+"/approve", alice.Token, nil)
	expectStatus(t, resp, http.StatusConflict)

	var items []model.Item
	resp = do(t, http.MethodGet, server.URL+"/api/items", carol.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &items)
	if len(items) != 0 {
		t.Errorf("borrowed item should not be browsable, got %d", len(items))
	}

	resp = do(t, http.MethodPost, server.URL+"/api/requests", carol.Token, map[string]string{"item_id": drill.ID, "return_date": "2099-01-01"})
	expectStatus(t, resp, http.StatusConflict)

	// Only the borrower may return.
	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+req.ID+"/return", alice.Token, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+req.ID+"/return", bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+req.ID+"/return", bob.Token, nil)
	expectStatus(t, resp, http.StatusConflict)

	resp = do(t, http.MethodPost, server.URL+"/api/requests/"+other.ID+"/decline", alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)

	var borrows []model.Request
	resp = do(t, http.MethodGet, server.URL+"/api/requests/outgoing", bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &borrows)
	if len(borrows) != 1 || borrows[0].Status != model.RequestStatusReturned {
		t.Errorf("unexpected borrow history: %+v", borrows)
	}

	resp = do(t, http.MethodGet, server.URL+"/api/items/"+drill.ID, alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	var detail struct {
		Item     model.Item      `json:"item"`
		Requests []model.Request `json:"requests"`
	}
	decode(t, resp, &detail)
	if detail.Item.Status != model.ItemStatusAvailable {
		t.Errorf("expected item available after return, got %s", detail.Item.Status)
	}
	if len(detail.Requests) != 2 {
		t.Errorf("expected owner to see 2 requests, got %d", len(detail.Requests))
	}
}

func TestRequestValidation(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)
	bob := signIn(t, server)
	drill := shareItem(t, server, alice.Token, "Drill")

	tests := []struct {
		name  string
		token string
		body  map[string]string
		want  int
	}{
		{"return before borrow", bob.Token, map[string]string{"item_id": drill.ID, "borrow_date": "2026-05-03", "return_date": "2026-05-01"}, http.StatusBadRequest},
		{"bad date", bob.Token, map[string]string{"item_id": drill.ID, "borrow_date": "May 1st", "return_date": "2026-05-01"}, http.StatusBadRequest},
		{"own item", alice.Token, map[string]string{"item_id": drill.ID, "borrow_date": "2026-05-01", "return_date": "2026-05-03"}, http.StatusBadRequest},
		{"unknown item", bob.Token, map[string]string{"item_id": "nope", "borrow_date": "2026-05-01", "return_date": "2026-05-03"}, http.StatusNotFound},
		{"missing item", bob.Token, map[string]string{"return_date": "2026-05-03"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, server.URL+"/api/requests", tt.token, tt.body)
			expectStatus(t, resp, tt.want)
		})
	}

	resp := do(t, http.MethodPost, server.URL+"/api/requests/nope/approve", alice.Token, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestLogoutRevokesToken(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)

	resp := do(t, http.MethodPost, server.URL+"/api/session/logout", alice.Token, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodGet, server.URL+"/api/session", alice.Token, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPassphraseRestore(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)

	resp := do(t, http.MethodPut, server.URL+"/api/session/passphrase", alice.Token, map[string]string{"passphrase": "short"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = do(t, http.MethodPut, server.URL+"/api/session/passphrase", alice.Token, map[string]string{"passphrase": "correct horse"})
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodPost, server.URL+"/api/session/restore", "", map[string]string{"user_id": alice.Profile.UserID, "passphrase": "wrong horse"})
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, http.MethodPost, server.URL+"/api/session/restore", "", map[string]string{"user_id": alice.Profile.UserID, "passphrase": "correct horse"})
	expectStatus(t, resp, http.StatusOK)
	var restored startedSession
	decode(t, resp, &restored)
	if restored.Profile.UserID != alice.Profile.UserID || !restored.Profile.HasPassphrase {
		t.Errorf("unexpected restored profile: %+v", restored.Profile)
	}
}

func uploadImage(t *testing.T, url, token string) *http.Response {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{0, 128, 0, 255})
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "drill.png")
	png.Encode(part, img)
	mw.Close()

	req, _ := http.NewRequest(http.MethodPut, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("uploading image: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestItemImage(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)
	bob := signIn(t, server)
	drill := shareItem(t, server, alice.Token, "Drill")
	imageURL := server.URL + "/api/items/" + drill.ID + "/image"

	resp := do(t, http.MethodGet, imageURL, bob.Token, nil)
	expectStatus(t, resp, http.StatusNotFound)

	expectStatus(t, uploadImage(t, imageURL, bob.Token), http.StatusForbidden)
	expectStatus(t, uploadImage(t, imageURL, alice.Token), http.StatusOK)

	resp = do(t, http.MethodGet, imageURL, bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}

	req := requestItem(t, server, bob.Token, drill.ID)
	if req.ItemImage != "/api/items/"+drill.ID+"/image" {
		t.Errorf("expected request to carry the image reference, got %q", req.ItemImage)
	}
}

// readFeed collects SSE data lines until one contains want.
func readFeed(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("feed closed before %q arrived", want)
			}
			if strings.HasPrefix(line, "data:") && strings.Contains(line, want) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func openFeed(t *testing.T, server *httptest.Server, view, token string) <-chan string {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/feed/" + view + "?token=" + token)
	if err != nil {
		t.Fatalf("opening feed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %s", ct)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func TestFeedStreamsChanges(t *testing.T) {
	server := setupTestServer(t)
	alice := signIn(t, server)
	bob := signIn(t, server)

	lines := openFeed(t, server, ViewBrowse, bob.Token)
	readFeed(t, lines, `"browse":[]`)

	shareItem(t, server, alice.Token, "Ladder")
	readFeed(t, lines, "Ladder")
}

func TestFeedClosesOnLogout(t *testing.T) {
	server := setupTestServer(t)
	bob := signIn(t, server)

	lines := openFeed(t, server, ViewBorrows, bob.Token)
	readFeed(t, lines, `"borrows":[]`)

	resp := do(t, http.MethodPost, server.URL+"/api/session/logout", bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("feed stayed open after logout")
		}
	}
}

func TestFeedUnknownView(t *testing.T) {
	server := setupTestServer(t)
	bob := signIn(t, server)

	resp := do(t, http.MethodGet, server.URL+"/api/feed/everything", bob.Token, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

// expectFeedClosed drains the feed until it ends, failing if forbidden shows up.
func expectFeedClosed(t *testing.T, lines <-chan string, forbidden string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.Contains(line, forbidden) {
				t.Fatalf("ended session still streamed: %s", line)
			}
		case <-timeout:
			t.Fatal("feed stayed open after the session ended")
		}
	}
}

func TestFeedClosesOnLogoutWithPendingChange(t *testing.T) {
	env := setupTestEnv(t)
	alice := signIn(t, env.server)
	bob := signIn(t, env.server)

	lines := openFeed(t, env.server, ViewBrowse, bob.Token)
	readFeed(t, lines, `"browse":[]`)

	hood := feed.NeighborhoodTopic(model.Scope{Deployment: "test", Neighborhood: "elm-street"})
	env.hub.Publish(hood, feed.Event{Kind: feed.KindItemUpdated, ID: "x"})
	env.hub.Publish(hood, feed.Event{Kind: feed.KindItemUpdated, ID: "y"})

	resp := do(t, http.MethodPost, env.server.URL+"/api/session/logout", bob.Token, nil)
	expectStatus(t, resp, http.StatusOK)

	shareItem(t, env.server, alice.Token, "Chainsaw")
	expectFeedClosed(t, lines, "Chainsaw")
}

func TestFeedClosesWhenTokenRevoked(t *testing.T) {
	env := setupTestEnv(t)
	alice := signIn(t, env.server)
	bob := signIn(t, env.server)

	lines := openFeed(t, env.server, ViewBrowse, bob.Token)
	readFeed(t, lines, `"browse":[]`)

	// Revoked without a session event reaching the feed.
	claims, err := auth.ValidateToken(testJWTSecret, bob.Token)
	if err != nil {
		t.Fatalf("reading token: %v", err)
	}
	if err := store.RevokeToken(context.Background(), env.db, claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("revoking: %v", err)
	}

	shareItem(t, env.server, alice.Token, "Chainsaw")
	expectFeedClosed(t, lines, "Chainsaw")
}

func TestFeedClosesWhenSessionExpires(t *testing.T) {
	database := db.NewTestDB(t)
	hub := feed.NewHub()
	t.Cleanup(hub.Close)
	h := &FeedHandler{DB: database, Hub: hub}

	sc := &session.Context{
		UserID:     "bob",
		Deployment: "test",
		TokenID:    "jti-1",
		ExpiresAt:  time.Now().Add(200 * time.Millisecond),
		Profile:    &model.Profile{UserID: "bob", Neighborhood: "elm-street"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/feed/browse", nil)
	req.SetPathValue("view", ViewBrowse)
	req = req.WithContext(context.WithValue(req.Context(), sessionKey, sc))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Stream(httptest.NewRecorder(), req)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed stayed open past token expiry")
	}
}
