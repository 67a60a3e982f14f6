package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/database"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	server   *httptest.Server
	registry *realtime.Registry
	gateway  *realtime.Gateway
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "inkwell-auth",
		Audience:      "inkwell-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to build token manager: %v", err)
	}
	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build post service: %v", err)
	}
	store, err := comments.NewStore(comments.StoreConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to build comment store: %v", err)
	}

	registry := realtime.NewRegistry(nil)
	gateway, err := realtime.NewGateway(realtime.GatewayConfig{Registry: registry, BufferSize: 8})
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	publisher, err := realtime.NewAsyncPublisher(realtime.AsyncPublisherConfig{Sink: registry, Workers: 2})
	if err != nil {
		t.Fatalf("failed to build publisher: %v", err)
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Store:      store,
		Gatekeeper: tokens,
		Posts:      postService,
		Authors:    userService,
		Fanout:     publisher,
	})
	if err != nil {
		t.Fatalf("failed to build comment service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      tokens,
		Users:             userService,
		Posts:             postService,
		Comments:          commentService,
		Gateway:           gateway,
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(func() { _ = sqlDB.Close() })
	t.Cleanup(server.Close)
	t.Cleanup(publisher.Close)
	t.Cleanup(gateway.Close)
	return testServer{server: server, registry: registry, gateway: gateway}
}

type session struct {
	token  string
	userID string
}

func (s testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(context.Background(), method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return response.StatusCode, payload
}

func (s testServer) register(t *testing.T, username string) session {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "correct-horse",
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d: %s", username, status, body)
	}
	var payload authResponsePayload
	decode(t, body, &payload)
	return session{token: payload.AccessToken, userID: payload.User.ID}
}

func (s testServer) createPost(t *testing.T, author session, title string) postPayload {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/posts", author.token, map[string]string{
		"title":   title,
		"content": "body of " + title,
	})
	if status != http.StatusCreated {
		t.Fatalf("create post: unexpected status %d: %s", status, body)
	}
	var post postPayload
	decode(t, body, &post)
	return post
}

func decode(t *testing.T, body []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("failed to decode %s: %v", body, err)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	decode(t, body, &payload)
	return payload.Error
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}
