package guard

import (
	"context"
	"strings"
)

// Transcriber turns audio into text. It returns "" when nothing could be
// recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// EnrollAudio transcribes audio and enrolls the result.
func (g *Guard) EnrollAudio(ctx context.Context, t Transcriber, userID string, audio []byte) (EnrollResult, error) {
	text := t.Transcribe(ctx, audio)
	if strings.TrimSpace(text) == "" {
		return EnrollResult{Required: g.cfg.MinWords, Message: "no speech recognized, please try again"}, nil
	}
	return g.Enroll(ctx, userID, text)
}

// AuthenticateAudio transcribes audio and authenticates with the result.
// A failed transcription is not counted as a failed attempt.
func (g *Guard) AuthenticateAudio(ctx context.Context, t Transcriber, userID string, audio []byte) (AuthResult, error) {
	return g.Authenticate(ctx, userID, t.Transcribe(ctx, audio))
}
