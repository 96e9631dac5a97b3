package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name, link, want string
	}{
		{"watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch with params", "https://www.youtube.com/watch?list=PL123&v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link with query", "https://youtu.be/dQw4w9WgXcQ?t=42", "dQw4w9WgXcQ"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"shorts", "https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"live", "https://www.youtube.com/live/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"no scheme", "youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"surrounding space", "  https://youtu.be/dQw4w9WgXcQ  ", "dQw4w9WgXcQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVideoID(tt.link)
			if err != nil {
				t.Fatalf("ExtractVideoID(%q): %v", tt.link, err)
			}
			if got != tt.want {
				t.Fatalf("ExtractVideoID(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestExtractVideoIDBadLinks(t *testing.T) {
	bad := []string{
		"",
		"https://vimeo.com/12345",
		"https://www.youtube.com/watch?v=tooShort",
		"just some text",
	}
	for _, link := range bad {
		if _, err := ExtractVideoID(link); !errors.Is(err, ErrBadLink) {
			t.Errorf("ExtractVideoID(%q): expected ErrBadLink, got %v", link, err)
		}
	}
}

func TestJoinFragments(t *testing.T) {
	frags := []Fragment{
		{Text: " hello ", Offset: 0, Duration: 1.5},
		{Text: "", Offset: 1.5, Duration: 0.5},
		{Text: "world", Offset: 2, Duration: 1},
	}
	if got := JoinFragments(frags); got != "hello world" {
		t.Fatalf("JoinFragments = %q, want %q", got, "hello world")
	}
	if got := JoinFragments(nil); got != "" {
		t.Fatalf("JoinFragments(nil) = %q, want empty", got)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcript" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("video_id") {
		case "hasTRANSCRi":
			_ = json.NewEncoder(w).Encode(transcriptResponse{
				Available: true,
				Fragments: []Fragment{{Text: "first"}, {Text: "second"}},
			})
		case "emptyFRAGSx":
			_ = json.NewEncoder(w).Encode(transcriptResponse{Available: true})
		case "notAVAILabl":
			_ = json.NewEncoder(w).Encode(transcriptResponse{Available: false})
		case "serverBOOMx":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	ctx := context.Background()

	text, err := c.Fetch(ctx, "hasTRANSCRi")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text != "first second" {
		t.Fatalf("Fetch = %q, want %q", text, "first second")
	}

	for _, id := range []string{"emptyFRAGSx", "notAVAILabl", "missingVIDx"} {
		if _, err := c.Fetch(ctx, id); !errors.Is(err, ErrNoTranscript) {
			t.Errorf("Fetch(%q): expected ErrNoTranscript, got %v", id, err)
		}
	}

	if _, err := c.Fetch(ctx, "serverBOOMx"); err == nil || errors.Is(err, ErrNoTranscript) {
		t.Fatalf("server error must not be ErrNoTranscript, got %v", err)
	}
}
