// Package transcript extracts YouTube video IDs from submitted links
// and fetches transcripts from a transcript API.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrNoTranscript is returned when the video exists but has no
// transcript available. Callers treat it as a per-item skip, not a
// batch failure.
var ErrNoTranscript = errors.New("transcript not available")

// ErrBadLink is returned when no video ID can be extracted from a
// submitted link.
var ErrBadLink = errors.New("cannot extract video id from link")

// Known YouTube URL shapes. The ID is always 11 characters of
// [A-Za-z0-9_-].
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtu\.be/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/embed/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/shorts/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/live/)([A-Za-z0-9_-]{11})`),
}

// ExtractVideoID pulls the 11-character video ID out of a YouTube link
// in any of the known URL shapes.
func ExtractVideoID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ErrBadLink
	}
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBadLink, link)
}

// Fragment is one timed piece of a transcript.
type Fragment struct {
	Text     string  `json:"text"`
	Offset   float64 `json:"offset"`
	Duration float64 `json:"duration"`
}

// Client fetches transcripts over HTTP from a transcript API endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a transcript client for the given API base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type transcriptResponse struct {
	Available bool       `json:"available"`
	Fragments []Fragment `json:"fragments"`
}

// Fetch returns the full transcript text for a video: fragments joined
// in order with timestamps stripped. ErrNoTranscript is returned when
// the API signals absence.
func (c *Client) Fetch(ctx context.Context, videoID string) (string, error) {
	u := fmt.Sprintf("%s/transcript?video_id=%s", c.baseURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create transcript request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoTranscript
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript API returned status %d", resp.StatusCode)
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode transcript response: %w", err)
	}
	if !tr.Available || len(tr.Fragments) == 0 {
		return "", ErrNoTranscript
	}

	return JoinFragments(tr.Fragments), nil
}

// JoinFragments concatenates fragment texts into one transcript string,
// dropping the timing information.
func JoinFragments(frags []Fragment) string {
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		text := strings.TrimSpace(f.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
