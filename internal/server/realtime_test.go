package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
)

func TestCommentStreamEmitsNewCommentEvents(t *testing.T) {
	srv := newTestServer(t)
	author := srv.register(t, "author")
	post := srv.createPost(t, author, "streamed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.server.URL+"/api/comments/post/"+post.ID+"/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}
	waitFor(t, "stream to join the room", func() bool { return len(srv.registry.Members(post.ID)) == 1 })

	status, body := srv.do(t, http.MethodPost, "/api/comments/post/"+post.ID, author.token, map[string]string{"content": "streamed comment"})
	if status != http.StatusCreated {
		t.Fatalf("create comment failed: %d %s", status, body)
	}
	var created comments.View
	decode(t, body, &created)

	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for comment event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != realtime.EventNewComment {
				continue
			}
			var delivered comments.View
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &delivered); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if delivered.ID != created.ID || delivered.Content != "streamed comment" {
				t.Fatalf("unexpected delivered comment %+v", delivered)
			}
			cancel()
			waitFor(t, "stream to leave the room", func() bool { return len(srv.registry.Members(post.ID)) == 0 })
			return
		}
	}
}
