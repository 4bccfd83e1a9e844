package actor

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Transcription lag shim: finalized segments can land in the buffer
// shortly after the speech handle settles, so consumers poll with a
// short bounded backoff before giving up.
const (
	spokenTextRetries  = 8
	spokenTextInterval = 50 * time.Millisecond

	// PlaceholderUtterance stands in when a turn produced no
	// transcribable speech, so downstream broadcasts never carry an
	// empty text field.
	PlaceholderUtterance = "(no spoken response)"
)

// SpeechBuffer accumulates finalized speech segments from the engine.
type SpeechBuffer struct {
	mu       sync.Mutex
	segments []string
}

// NewSpeechBuffer returns an empty buffer.
func NewSpeechBuffer() *SpeechBuffer {
	return &SpeechBuffer{}
}

// Append adds one finalized segment. Empty segments are ignored.
func (b *SpeechBuffer) Append(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	b.mu.Lock()
	b.segments = append(b.segments, text)
	b.mu.Unlock()
}

// ConsumeSpokenText joins all buffered segments, clears the buffer, and
// returns the result. Join and clear are atomic.
func (b *SpeechBuffer) ConsumeSpokenText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := strings.TrimSpace(strings.Join(b.segments, " "))
	b.segments = b.segments[:0]
	return text
}

// Len returns the number of buffered segments.
func (b *SpeechBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

// AwaitSpokenText consumes the buffer, polling with bounded backoff
// until text appears, the retries run out, or the context ends. When
// nothing arrives it returns PlaceholderUtterance.
func AwaitSpokenText(ctx context.Context, b *SpeechBuffer) string {
	for i := 0; i < spokenTextRetries; i++ {
		if text := b.ConsumeSpokenText(); text != "" {
			return text
		}
		select {
		case <-ctx.Done():
			return PlaceholderUtterance
		case <-time.After(spokenTextInterval):
		}
	}
	if text := b.ConsumeSpokenText(); text != "" {
		return text
	}
	return PlaceholderUtterance
}
