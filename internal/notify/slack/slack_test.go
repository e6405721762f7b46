package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

func testIncident(score float64) (*incident.Incident, *event.Event) {
	at := time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC)
	inc := &incident.Incident{
		ID:          "01JN123",
		Status:      incident.StatusOpen,
		Score:       &score,
		LastEventAt: &at,
		EventCount:  2,
	}
	ev := &event.Event{
		ID:         "01JN124",
		Source:     "broker",
		OccurredAt: at,
		Entity:     event.EntityRef{Type: "account", ID: "acct-123"},
		Type:       "price_move",
		Title:      "AAPL down 7%",
		Body:       "Largest intraday drop this quarter.",
		Links:      []event.Link{{Href: "https://example.com/aapl", Text: "quote"}},
		Score:      score,
		Explain:    scoring.Explanation{TopFactor: scoring.FactorActionability},
	}
	return inc, ev
}

func captureServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	inc, ev := testIncident(0.82)
	if err := New(srv.URL, log.Nop()).Notify(context.Background(), inc, ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, details, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "AAPL down 7%") {
		t.Errorf("header text = %q, want to contain event title", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for a high score")
	}

	details := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(details, "<https://example.com/aapl|quote>") {
		t.Errorf("details = %q, want link", details)
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "01JN123") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q", ctxText)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	inc, ev := testIncident(0.5)
	if err := New("", nil).Notify(context.Background(), inc, ev); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_TruncatesLongBody(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	inc, ev := testIncident(0.5)
	ev.Body = strings.Repeat("x", 4000)
	ev.Links = nil
	if err := New(srv.URL, log.Nop()).Notify(context.Background(), inc, ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks := got["blocks"].([]any)
	text := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)

	if len(text) > maxBodyLen+len("*Details*\n\n") {
		t.Errorf("details length = %d, expected <= %d", len(text), maxBodyLen+len("*Details*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated body to end with ...")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "abc", 10, "abc"},
		{"ascii", strings.Repeat("x", 12), 10, strings.Repeat("x", 7) + "..."},
		{"two-byte runes", strings.Repeat("é", 10), 10, "ééé..."},
		{"three-byte runes", strings.Repeat("€", 5), 10, "€€..."},
		{"four-byte rune at cut", "ab" + strings.Repeat("\U0001f534", 3), 10, "ab\U0001f534..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.limit, got)
			}
			if len(got) > tt.limit {
				t.Errorf("len = %d, want <= %d", len(got), tt.limit)
			}
		})
	}
}

func TestNotify_TruncatesMultiByteBody(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	inc, ev := testIncident(0.5)
	ev.Title = strings.Repeat("€", 200)
	ev.Body = "x" + strings.Repeat("é", 2000)
	ev.Links = nil
	if err := New(srv.URL, log.Nop()).Notify(context.Background(), inc, ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks := got["blocks"].([]any)
	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	details := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	for name, text := range map[string]string{"header": header, "details": details} {
		if strings.ContainsRune(text, utf8.RuneError) {
			t.Errorf("%s contains U+FFFD: a rune was split", name)
		}
		if !strings.HasSuffix(text, "...") {
			t.Errorf("%s not truncated", name)
		}
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	inc, ev := testIncident(0.5)
	err := New(srv.URL, log.Nop()).Notify(context.Background(), inc, ev)
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestScoreEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  string
	}{
		{1, "\U0001f534"},
		{0.7, "\U0001f534"},
		{0.69, "\U0001f7e1"},
		{0.4, "\U0001f7e1"},
		{0.39, "\U0001f7e2"},
		{0, "\U0001f7e2"},
	}

	for _, tt := range tests {
		if got := scoreEmoji(tt.score); got != tt.want {
			t.Errorf("scoreEmoji(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestBuildMessage_FallsBackToEventScore(t *testing.T) {
	t.Parallel()

	inc, ev := testIncident(0.1)
	inc.Score = nil
	ev.Score = 0.9

	header := buildMessage(inc, ev)["blocks"].([]map[string]any)[0]
	text := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "\U0001f534") {
		t.Errorf("header = %q, want red circle from event score", text)
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("AAPL down", "body", "acct-1", "https://example.com")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "id", "<http://example.com|link>")
	f.Add("title\x00\x01\x02", "body\nline", "e\tid", "h\x00ref")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "acct", "href")

	f.Fuzz(func(t *testing.T, title, body, entity, href string) {
		score := 0.5
		inc := &incident.Incident{ID: "fuzz-id", Status: incident.StatusOpen, Score: &score}
		ev := &event.Event{
			Title:  title,
			Body:   body,
			Entity: event.EntityRef{Type: "account", ID: entity},
			Links:  []event.Link{{Href: href}},
		}

		// Must not panic
		msg := buildMessage(inc, ev)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}
