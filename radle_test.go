package radle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewService(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://blog.example/callback",
		UserAgent:    "test-agent",
		BaseURL:      server.URL,
		AuthURL:      server.URL,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func noAPI(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Error("nil config should fail")
	}
	if _, err := NewService(&Config{ClientSecret: "s"}); err == nil {
		t.Error("missing client id should fail")
	}
	if _, err := NewService(&Config{ClientID: "c"}); err == nil {
		t.Error("missing client secret should fail")
	}
}

func TestLinkPostAssociation(t *testing.T) {
	svc := newTestService(t, noAPI(t))

	if _, err := svc.Association("42"); err == nil {
		t.Error("association for unlinked post should fail")
	}

	if err := svc.LinkPost("42", "abc123"); err != nil {
		t.Fatalf("LinkPost failed: %v", err)
	}
	threadID, err := svc.Association("42")
	if err != nil || threadID != "abc123" {
		t.Errorf("Association = (%q, %v), want abc123", threadID, err)
	}

	// Linking again replaces the association.
	svc.LinkPost("42", "def456")
	if threadID, _ := svc.Association("42"); threadID != "def456" {
		t.Errorf("Association after relink = %q, want def456", threadID)
	}

	if err := svc.UnlinkPost("42"); err != nil {
		t.Fatalf("UnlinkPost failed: %v", err)
	}
	if _, err := svc.Association("42"); err == nil {
		t.Error("association should be gone after unlink")
	}

	if err := svc.LinkPost("", "abc"); err == nil {
		t.Error("empty post id should fail")
	}
	if err := svc.LinkPost("42", "ABC-123"); err == nil {
		t.Error("non-base36 thread id should fail")
	}
}

func TestCommentSystemOverride(t *testing.T) {
	svc := newTestService(t, noAPI(t))

	if got := svc.CommentSystemOverride("42"); got != "" {
		t.Errorf("unset override = %q, want empty", got)
	}
	svc.SetCommentSystemOverride("42", "wordpress")
	if got := svc.CommentSystemOverride("42"); got != "wordpress" {
		t.Errorf("override = %q, want wordpress", got)
	}
	svc.SetCommentSystemOverride("42", "")
	if got := svc.CommentSystemOverride("42"); got != "" {
		t.Errorf("cleared override = %q, want empty", got)
	}
}

func TestToggleHidden(t *testing.T) {
	svc := newTestService(t, noAPI(t))

	result, err := svc.ToggleHidden("42", "c1")
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if result.Action != "hidden" {
		t.Errorf("action = %q, want hidden", result.Action)
	}
	if len(result.HiddenIDs) != 1 || result.HiddenIDs[0] != "c1" {
		t.Errorf("hidden ids = %v, want [c1]", result.HiddenIDs)
	}

	svc.ToggleHidden("42", "c2")
	if ids := svc.HiddenIDs("42"); len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("hidden ids = %v, want insertion order [c1 c2]", ids)
	}

	// Toggling twice restores the original state.
	result, err = svc.ToggleHidden("42", "c1")
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if result.Action != "shown" {
		t.Errorf("action = %q, want shown", result.Action)
	}
	if ids := svc.HiddenIDs("42"); len(ids) != 1 || ids[0] != "c2" {
		t.Errorf("hidden ids = %v, want [c2]", ids)
	}

	if _, err := svc.ToggleHidden("42", ""); err == nil {
		t.Error("empty comment id should fail")
	}
	if _, err := svc.ToggleHidden("42", "not/base36"); err == nil {
		t.Error("non-base36 comment id should fail")
	}
}

func TestCommentsRequiresAssociation(t *testing.T) {
	svc := newTestService(t, noAPI(t))
	_, err := svc.Comments(context.Background(), "42", types.SortNewest, false)
	var inputErr *pkgerrs.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError, got %v", err)
	}
	if !strings.Contains(err.Error(), "no linked Reddit thread") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCommentsAppliesHiddenOverlay(t *testing.T) {
	payload := `[
		{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"abc123","author":"alice","subreddit":"golang","permalink":"/r/golang/comments/abc123/p/"}}]}},
		{"kind":"Listing","data":{"children":[
			{"kind":"t1","data":{"id":"c1","author":"bob","body":"visible","ups":1,"created_utc":100,"replies":""}},
			{"kind":"t1","data":{"id":"c2","author":"carol","body":"hidden","ups":2,"created_utc":200,"replies":""}}
		]}}
	]`

	mux := http.NewServeMux()
	mux.HandleFunc("/comments/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	svc := newTestService(t, mux)
	svc.LinkPost("42", "abc123")
	svc.ToggleHidden("42", "c2")

	viewer, err := svc.Comments(context.Background(), "42", types.SortOldest, false)
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
	if len(viewer.Comments) != 1 || viewer.Comments[0].Comment.ID != "c1" {
		t.Errorf("viewer should not see the hidden comment: %d nodes", len(viewer.Comments))
	}

	editor, err := svc.Comments(context.Background(), "42", types.SortOldest, true)
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
	if len(editor.Comments) != 2 {
		t.Fatalf("editor should see both comments, got %d", len(editor.Comments))
	}
	if !editor.Comments[1].Comment.IsHidden {
		t.Error("editor's view should flag the hidden comment")
	}
}

func TestSearchExisting(t *testing.T) {
	var searches int
	mux := http.NewServeMux()
	mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
		searches++
		if got := r.URL.Query().Get("restrict_sr"); got != "on" {
			t.Errorf("restrict_sr = %q, want on", got)
		}
		w.Write([]byte(`{"data":{"children":[
			{"data":{"id":"zzz","title":"Some Other Post"}},
			{"data":{"id":"abc123","title":"my blog POST"}}
		]}}`))
	})

	svc := newTestService(t, mux)

	threadID, found, err := svc.SearchExisting(context.Background(), "My Blog Post", "golang")
	if err != nil {
		t.Fatalf("SearchExisting failed: %v", err)
	}
	if !found || threadID != "abc123" {
		t.Errorf("result = (%q, %v), want case-insensitive exact match abc123", threadID, found)
	}

	// Second lookup hits the cache.
	svc.SearchExisting(context.Background(), "My Blog Post", "golang")
	if searches != 1 {
		t.Errorf("searched %d times, want 1 (cached)", searches)
	}

	if _, _, err := svc.SearchExisting(context.Background(), "", "golang"); err == nil {
		t.Error("empty title should fail")
	}
}

func TestPublish(t *testing.T) {
	t.Run("creates a self post", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"children":[]}}`))
		})
		mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if got := r.PostForm.Get("kind"); got != "self" {
				t.Errorf("kind = %q, want self", got)
			}
			if got := r.PostForm.Get("api_type"); got != "json" {
				t.Errorf("api_type = %q, want json", got)
			}
			w.Write([]byte(`{"json":{"errors":[],"data":{"url":"https://www.reddit.com/r/golang/comments/abc123/my_post/","id":"abc123"}}}`))
		})

		svc := newTestService(t, mux)
		result, err := svc.Publish(context.Background(), types.PublishRequest{
			Subreddit: "golang", Title: "My Post", Content: "body",
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if result.ThreadID != "abc123" {
			t.Errorf("thread id = %q, want abc123", result.ThreadID)
		}
	})

	t.Run("idempotent when the post already exists", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"children":[{"data":{"id":"existing1","title":"My Post"}}]}}`))
		})
		mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
			t.Error("submit should not be called when the post exists")
		})

		svc := newTestService(t, mux)
		result, err := svc.Publish(context.Background(), types.PublishRequest{
			Subreddit: "golang", Title: "My Post",
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if result.ThreadID != "existing1" {
			t.Errorf("thread id = %q, want existing1", result.ThreadID)
		}
	})

	t.Run("unextractable thread id is an error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"children":[]}}`))
		})
		mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"json":{"errors":[],"data":{"url":"https://www.reddit.com/weird/shape/"}}}`))
		})

		svc := newTestService(t, mux)
		if _, err := svc.Publish(context.Background(), types.PublishRequest{Subreddit: "golang", Title: "T"}); err == nil {
			t.Error("missing thread id in response URL should fail")
		}
	})

	t.Run("provider errors surface", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"children":[]}}`))
		})
		mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"json":{"errors":[["SUBREDDIT_NOTALLOWED","not allowed to post there","sr"]]}}`))
		})

		svc := newTestService(t, mux)
		if _, err := svc.Publish(context.Background(), types.PublishRequest{Subreddit: "golang", Title: "T"}); err == nil {
			t.Error("submission errors should surface")
		}
	})

	t.Run("link post requires a url", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/r/golang/search", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"children":[]}}`))
		})
		svc := newTestService(t, mux)
		_, err := svc.Publish(context.Background(), types.PublishRequest{
			Subreddit: "golang", Title: "T", Kind: types.KindLink,
		})
		if err == nil {
			t.Error("link post without url should fail")
		}
	})
}

func TestRateLimitDataRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/comments/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Used", "12")
		w.Header().Set("X-Ratelimit-Remaining", "88")
		w.Header().Set("X-Ratelimit-Reset", "400")
		w.Write([]byte(`[{"kind":"Listing","data":{"children":[]}},{"kind":"Listing","data":{"children":[]}}]`))
	})

	svc := newTestService(t, mux)
	svc.LinkPost("42", "abc123")
	if _, err := svc.Comments(context.Background(), "42", types.SortNewest, false); err != nil {
		t.Fatalf("Comments failed: %v", err)
	}

	buckets, err := svc.RateLimitData(types.PeriodLastHour)
	if err != nil {
		t.Fatalf("RateLimitData failed: %v", err)
	}
	var total float64
	for _, b := range buckets {
		total += b.Calls
	}
	if total != 12 {
		t.Errorf("total calls = %v, want 12", total)
	}

	if err := svc.DeleteRateLimitData(); err != nil {
		t.Fatalf("DeleteRateLimitData failed: %v", err)
	}
	buckets, _ = svc.RateLimitData(types.PeriodLastHour)
	total = 0
	for _, b := range buckets {
		total += b.Calls
	}
	if total != 0 {
		t.Errorf("total calls after delete = %v, want 0", total)
	}
}

func TestTemplatePassthrough(t *testing.T) {
	svc := newTestService(t, noAPI(t))
	ctx := types.PostContext{Title: "T", Permalink: "https://blog.example/t"}
	if got := svc.ExpandTitle("{post_title}", ctx); got != "T" {
		t.Errorf("ExpandTitle = %q", got)
	}
	if got := svc.ExpandContent("{post_permalink}", ctx); got != "https://blog.example/t" {
		t.Errorf("ExpandContent = %q", got)
	}
}
