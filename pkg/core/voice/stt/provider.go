// Package stt streams microphone audio to a speech-to-text service and
// surfaces interim and final transcripts.
package stt

import "context"

// Provider opens streaming transcription sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingSTT dials a new session. Audio is pushed with SendAudio and
	// transcripts arrive on Transcripts until the session ends.
	NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error)
}

// TranscribeOptions configures a session.
type TranscribeOptions struct {
	Model      string // default "ink-whisper"
	Language   string // ISO code, default "en"
	Encoding   string // default "pcm_s16le"
	SampleRate int    // Hz, default 16000
	MinVolume  string // default "0.01"
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text      string
	IsFinal   bool
	Timestamp float64 // seconds of audio covered
}
