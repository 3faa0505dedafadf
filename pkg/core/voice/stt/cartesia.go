package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	cartesiaWebsocketURL = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion      = "2025-04-16"
)

// ErrSessionClosed is returned when writing to a closed session.
var ErrSessionClosed = errors.New("stt session closed")

// CartesiaOption configures a CartesiaProvider.
type CartesiaOption func(*CartesiaProvider)

// WithURL overrides the websocket endpoint.
func WithURL(u string) CartesiaOption {
	return func(c *CartesiaProvider) {
		if u != "" {
			c.wsURL = u
		}
	}
}

// WithLogger sets the logger for session diagnostics.
func WithLogger(logger *zap.Logger) CartesiaOption {
	return func(c *CartesiaProvider) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// CartesiaProvider streams audio to Cartesia's ink-whisper STT.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
	logger *zap.Logger
}

// NewCartesia creates a Cartesia provider.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaProvider {
	c := &CartesiaProvider{
		apiKey: apiKey,
		wsURL:  cartesiaWebsocketURL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// StreamingSTT is one live transcription session.
type StreamingSTT struct {
	conn        *websocket.Conn
	logger      *zap.Logger
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	errMu sync.Mutex
	err   error
}

// NewStreamingSTT dials the websocket and starts the read loop.
func (c *CartesiaProvider) NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error) {
	u, err := c.sessionURL(opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &StreamingSTT{
		conn:        conn,
		logger:      c.logger,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.readLoop()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

func (c *CartesiaProvider) sessionURL(opts TranscribeOptions) (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	minVolume := opts.MinVolume
	if minVolume == "" {
		minVolume = "0.01"
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("min_volume", minVolume)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type cartesiaSTTResponse struct {
	Type     string  `json:"type"` // transcript, flush_done, done, error
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

func (s *StreamingSTT) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(fmt.Errorf("stt read: %w", err))
			}
			return
		}

		var msg cartesiaSTTResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed stt message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := TranscriptDelta{Text: msg.Text, IsFinal: msg.IsFinal, Timestamp: msg.Duration}
			select {
			case s.transcripts <- delta:
			case <-s.ctx.Done():
				return
			}
		case "flush_done":
		case "done":
			return
		case "error":
			s.setErr(fmt.Errorf("stt error: %s", msg.Error))
			return
		}
	}
}

func (s *StreamingSTT) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that ended the session, if any.
func (s *StreamingSTT) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendAudio sends one chunk in the session's encoding.
func (s *StreamingSTT) SendAudio(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio without closing the session.
func (s *StreamingSTT) Finalize() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Transcripts returns the transcript stream. It is closed when the session ends.
func (s *StreamingSTT) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done is closed when the read loop exits.
func (s *StreamingSTT) Done() <-chan struct{} {
	return s.done
}

// Close ends the session and waits for the read loop.
func (s *StreamingSTT) Close() error {
	if s.closed.Swap(true) {
		<-s.done
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	deadline := time.Now().Add(2 * time.Second)
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}
