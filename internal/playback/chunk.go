package playback

import (
	"strings"
	"time"
)

const (
	DefaultChunkSize = 3500
	DefaultLookback  = 100

	wordsPerMinute = 150
)

// SplitChunks splits text into pieces of at most max characters. Each cut
// is moved back to just after the nearest sentence end or line break within
// lookback characters of the limit, else made at the limit. The chunks
// concatenate back to text.
func SplitChunks(text string, max, lookback int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > 0 && i > max-lookback; i-- {
			if isBoundary(runes[i-1]) {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '\n':
		return true
	}
	return false
}

// EstimateReadingTime estimates narration time at 150 words per minute.
func EstimateReadingTime(text string) time.Duration {
	words := len(strings.Fields(text))
	return time.Duration(words) * time.Minute / wordsPerMinute
}
