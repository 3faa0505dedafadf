package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionURL_Defaults(t *testing.T) {
	p := NewCartesia("key-1")
	raw, err := p.sessionURL(TranscribeOptions{})
	if err != nil {
		t.Fatalf("sessionURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"model":       "ink-whisper",
		"language":    "en",
		"encoding":    "pcm_s16le",
		"sample_rate": "16000",
		"min_volume":  "0.01",
		"api_key":     "key-1",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	if u.Host != "api.cartesia.ai" {
		t.Fatalf("host = %q", u.Host)
	}
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}
}

func TestStreamingSTT_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)
	gotHeader := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader <- r.Header.Get("X-API-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gotAudio <- data

		_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "sk", "is_final": false})
		_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "skip", "is_final": true, "duration": 0.8})
		_ = conn.WriteJSON(map[string]any{"type": "done"})

		// Drain until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewCartesia("secret", WithURL(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := p.NewStreamingSTT(ctx, TranscribeOptions{})
	if err != nil {
		t.Fatalf("NewStreamingSTT: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if h := <-gotHeader; h != "secret" {
		t.Fatalf("X-API-Key = %q", h)
	}
	if a := <-gotAudio; len(a) != 4 {
		t.Fatalf("audio len = %d", len(a))
	}

	var deltas []TranscriptDelta
	for d := range s.Transcripts() {
		deltas = append(deltas, d)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %+v", deltas)
	}
	if !deltas[1].IsFinal || deltas[1].Text != "skip" || deltas[1].Timestamp != 0.8 {
		t.Fatalf("final delta = %+v", deltas[1])
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.SendAudio([]byte{0}); err != ErrSessionClosed {
		t.Fatalf("SendAudio after close = %v", err)
	}
}

func TestStreamingSTT_ServerErrorIsReported(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "error", "error": "bad audio"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := NewCartesia("k", WithURL(wsURL(srv))).NewStreamingSTT(context.Background(), TranscribeOptions{})
	if err != nil {
		t.Fatalf("NewStreamingSTT: %v", err)
	}
	<-s.Done()
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("Err = %v", err)
	}
	_ = s.Close()
}

func TestNewStreamingSTT_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewCartesia("k", WithURL(wsURL(srv))).NewStreamingSTT(context.Background(), TranscribeOptions{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401", err)
	}
}
