// Package playback narrates articles through a speech engine. A single
// control loop owns the playback state; commands, engine progress, focus
// changes and content fetch results are all marshalled onto it.
package playback

import (
	"context"
	"errors"
	"time"

	"github.com/TobiSchelling/newsreader/internal/database"
)

var (
	// ErrEngine wraps a speech engine rejection or failure.
	ErrEngine = errors.New("speech engine failure")
	// ErrFocusDenied is recorded when audio focus cannot be obtained.
	ErrFocusDenied = errors.New("audio focus denied")
	// ErrNoArticle is returned by Resume when there is nothing to resume.
	ErrNoArticle = errors.New("no current article")
	// ErrClosed is returned by commands once the control loop has exited.
	ErrClosed = errors.New("playback loop not running")
)

// Status is the playback status.
type Status int

const (
	Idle Status = iota
	Loading
	Playing
	Paused
	Stopped
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot of the playback state.
type State struct {
	Status       Status        `json:"status"`
	ArticleID    string        `json:"article_id,omitempty"`
	ArticleTitle string        `json:"article_title,omitempty"`
	Source       string        `json:"source,omitempty"`
	ChunkIndex   int           `json:"chunk_index"`
	ChunkCount   int           `json:"chunk_count"`
	Estimated    time.Duration `json:"estimated_ns,omitempty"`
	Err          string        `json:"error,omitempty"`
}

// Mode selects how an utterance is queued.
type Mode int

const (
	// Flush interrupts whatever is speaking and drops the queue.
	Flush Mode = iota
	// Enqueue appends to the queue.
	Enqueue
)

// EngineEventKind is the kind of a speech progress event.
type EngineEventKind int

const (
	EngineStart EngineEventKind = iota
	EngineDone
	EngineError
)

func (k EngineEventKind) String() string {
	switch k {
	case EngineStart:
		return "start"
	case EngineDone:
		return "done"
	case EngineError:
		return "error"
	}
	return "unknown"
}

// EngineEvent reports progress of one utterance.
type EngineEvent struct {
	Kind        EngineEventKind
	UtteranceID string
	Err         error
}

// FocusEvent is an asynchronous audio focus change.
type FocusEvent int

const (
	PermanentLoss FocusEvent = iota
	TransientLoss
	Regained
)

func (e FocusEvent) String() string {
	switch e {
	case PermanentLoss:
		return "permanent-loss"
	case TransientLoss:
		return "transient-loss"
	case Regained:
		return "regained"
	}
	return "unknown"
}

// Store is the part of the article store the orchestrator reads and writes.
type Store interface {
	Get(id string) (*database.Article, error)
	GetNext(afterPublished int64) (*database.Article, error)
	GetPrevious(beforePublished int64) (*database.Article, error)
	MarkRead(id string) error
	UpdateFullContent(id, text string) error
}

// Extractor fetches article full text; false means absent.
type Extractor interface {
	FetchFullText(ctx context.Context, url string) (string, bool)
}

// SpeechEngine is the narration capability.
type SpeechEngine interface {
	Speak(text string, mode Mode, utteranceID string) error
	IsSpeaking() bool
	Stop() error
	SetLanguage(locale string) error
	Events() <-chan EngineEvent
}

// FocusArbiter grants exclusive, revocable audio focus.
type FocusArbiter interface {
	Request() bool
	Release()
	Events() <-chan FocusEvent
}

// LanguageDetector picks the narration locale for a text.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}
