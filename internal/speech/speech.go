// Package speech narrates text by running an external text-to-speech
// command once per utterance.
package speech

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/playback"
)

// waitDelay bounds how long Wait keeps draining pipes held open by
// children of a killed command.
const waitDelay = 200 * time.Millisecond

// LangPlaceholder in an argument is replaced by the current language.
const LangPlaceholder = "{lang}"

// DefaultCommand narrates stdin with espeak-ng.
var DefaultCommand = []string{"espeak-ng", "--stdin", "-v", LangPlaceholder}

var (
	ErrClosed    = errors.New("speech engine closed")
	ErrEmptyText = errors.New("empty utterance")
)

type utterance struct {
	id   string
	text string
}

// CommandEngine runs argv with the utterance text on stdin. Utterances play
// one at a time in queue order. Flushing or stopping kills the running
// process; killed and dropped utterances report no completion events.
type CommandEngine struct {
	argv   []string
	events chan playback.EngineEvent
	wake   chan struct{}
	quit   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	lang    string
	queue   []utterance
	current *exec.Cmd
	gen     uint64
	closed  bool
}

// New starts an engine that runs argv once per utterance, with the text on
// stdin and LangPlaceholder arguments replaced by lang.
func New(argv []string, lang string) (*CommandEngine, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("speech command is empty")
	}
	e := &CommandEngine{
		argv:   append([]string(nil), argv...),
		lang:   lang,
		events: make(chan playback.EngineEvent, 64),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go e.loop()
	return e, nil
}

// Events delivers start, done and error events in utterance order.
func (e *CommandEngine) Events() <-chan playback.EngineEvent { return e.events }

// Speak queues text under id. Flush first kills the running utterance and
// drops the queue; their events are never delivered.
func (e *CommandEngine) Speak(text string, mode playback.Mode, id string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if mode == playback.Flush {
		e.flushLocked()
	}
	e.queue = append(e.queue, utterance{id: id, text: text})
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsSpeaking reports whether an utterance is running or queued.
func (e *CommandEngine) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil || len(e.queue) > 0
}

// Stop kills the running utterance and drops the queue.
func (e *CommandEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.flushLocked()
	return nil
}

// SetLanguage sets the language of utterances started from now on.
func (e *CommandEngine) SetLanguage(locale string) error {
	if locale == "" {
		return fmt.Errorf("empty language")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.lang = locale
	return nil
}

// Language returns the language new utterances are spoken in.
func (e *CommandEngine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lang
}

// Close kills any running utterance, stops the worker and closes the event
// channel.
func (e *CommandEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.flushLocked()
	e.mu.Unlock()

	close(e.quit)
	<-e.exited
	close(e.events)
	return nil
}

func (e *CommandEngine) flushLocked() {
	e.gen++
	e.queue = nil
	if e.current != nil && e.current.Process != nil {
		if err := e.current.Process.Kill(); err != nil {
			log.Debugf("speech: kill: %v", err)
		}
	}
}

func (e *CommandEngine) args() []string {
	args := make([]string, len(e.argv))
	for i, a := range e.argv {
		args[i] = strings.ReplaceAll(a, LangPlaceholder, e.lang)
	}
	return args
}

func (e *CommandEngine) loop() {
	defer close(e.exited)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.wake:
				continue
			case <-e.quit:
				return
			}
		}
		u := e.queue[0]
		e.queue = e.queue[1:]
		gen := e.gen

		args := e.args()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdin = strings.NewReader(u.text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = waitDelay
		if err := cmd.Start(); err != nil {
			e.mu.Unlock()
			log.Errorf("speech: start %s: %v", args[0], err)
			e.emit(playback.EngineEvent{Kind: playback.EngineError, UtteranceID: u.id, Err: err})
			continue
		}
		e.current = cmd
		e.mu.Unlock()

		e.emit(playback.EngineEvent{Kind: playback.EngineStart, UtteranceID: u.id})
		err := cmd.Wait()

		e.mu.Lock()
		e.current = nil
		stale := gen != e.gen
		e.mu.Unlock()
		if stale {
			continue
		}

		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			log.Errorf("speech: utterance %s: %v", u.id, err)
			e.emit(playback.EngineEvent{Kind: playback.EngineError, UtteranceID: u.id, Err: err})
			continue
		}
		e.emit(playback.EngineEvent{Kind: playback.EngineDone, UtteranceID: u.id})
	}
}

func (e *CommandEngine) emit(ev playback.EngineEvent) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}
