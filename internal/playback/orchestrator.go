package playback

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/database"
	"github.com/TobiSchelling/newsreader/internal/metrics"
)

// Deps are the collaborators of an Orchestrator. Extractor and Detector
// are optional.
type Deps struct {
	Store     Store
	Extractor Extractor
	Engine    SpeechEngine
	Focus     FocusArbiter
	Detector  LanguageDetector
}

// Options tune narration.
type Options struct {
	ChunkSize int
	Lookback  int
	// Language is the locale used when no detector is configured or
	// detection fails.
	Language string
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.Language == "" {
		o.Language = "vi"
	}
	return o
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type fetchResult struct {
	gen  uint64
	text string
	ok   bool
}

// Orchestrator owns the playback state machine. All fields below mu are
// touched only by the Run goroutine.
type Orchestrator struct {
	deps Deps
	opts Options

	cmds    chan command
	fetched chan fetchResult
	done    chan struct{}
	runOnce sync.Once

	mu    sync.Mutex
	state State
	subs  map[chan State]struct{}

	current     *database.Article
	gen         uint64
	cancelFetch context.CancelFunc
	focusHeld   bool
	language    string
	markedRead  bool
	seq         uint64
	utterances  map[string]int
}

// New creates an idle orchestrator. Nothing happens until Run is started.
func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		opts:    opts.withDefaults(),
		cmds:    make(chan command),
		fetched: make(chan fetchResult),
		done:    make(chan struct{}),
		subs:    make(map[chan State]struct{}),
		state:   State{Status: Idle},
	}
}

// Run executes the control loop until ctx is cancelled. It must be called
// once; commands issued before Run starts block until it does.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := false
	o.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("playback loop already started")
	}
	defer close(o.done)

	engineEvents := o.deps.Engine.Events()
	var focusEvents <-chan FocusEvent
	if o.deps.Focus != nil {
		focusEvents = o.deps.Focus.Events()
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case c := <-o.cmds:
			c.reply <- c.fn(ctx)
		case r := <-o.fetched:
			o.onFetched(r)
		case ev, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				continue
			}
			o.onEngineEvent(ev)
		case ev, ok := <-focusEvents:
			if !ok {
				focusEvents = nil
				continue
			}
			o.onFocusEvent(ev)
		}
	}
}

// do runs fn on the control loop and waits for it to be applied.
func (o *Orchestrator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- command{fn: fn, reply: reply}:
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe returns a channel that receives the current state and then
// every later transition. Slow readers only see the latest state.
func (o *Orchestrator) Subscribe() <-chan State {
	ch := make(chan State, 1)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	ch <- o.state
	o.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (o *Orchestrator) Unsubscribe(ch <-chan State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for sub := range o.subs {
		if sub == ch {
			delete(o.subs, sub)
			close(sub)
			return
		}
	}
}

// Play narrates article, fetching its full text first when it is not
// cached.
func (o *Orchestrator) Play(ctx context.Context, article database.Article) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		a := article
		if !a.HasFullContent() {
			if fresh, err := o.deps.Store.Get(a.ID); err == nil && fresh != nil {
				a = *fresh
			}
		}
		o.play(loopCtx, &a)
		return nil
	})
}

// PlayID narrates the stored article with the given id.
func (o *Orchestrator) PlayID(ctx context.Context, id string) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		a, err := o.deps.Store.Get(id)
		if err != nil {
			return fmt.Errorf("get article %s: %w", id, err)
		}
		if a == nil {
			return fmt.Errorf("%w: %s", ErrNoArticle, id)
		}
		o.play(loopCtx, a)
		return nil
	})
}

// Resume re-narrates the current article from the top.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		if o.current == nil {
			return ErrNoArticle
		}
		switch o.state.Status {
		case Paused, Stopped, Error:
			o.play(loopCtx, o.current)
		}
		return nil
	})
}

// Pause silences the engine, or abandons a pending content fetch, and keeps
// the current article for Resume.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.do(ctx, func(context.Context) error {
		o.pause()
		return nil
	})
}

// Stop ends narration, releases audio focus and forgets the current article.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.do(ctx, func(context.Context) error {
		o.stop()
		return nil
	})
}

// Next plays the article published right after the current one. Without a
// current article, or at the end of the list, it does nothing.
func (o *Orchestrator) Next(ctx context.Context) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		return o.step(loopCtx, o.deps.Store.GetNext)
	})
}

// Previous plays the article published right before the current one.
func (o *Orchestrator) Previous(ctx context.Context) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		return o.step(loopCtx, o.deps.Store.GetPrevious)
	})
}

func (o *Orchestrator) step(ctx context.Context, find func(int64) (*database.Article, error)) error {
	if o.current == nil {
		return nil
	}
	a, err := find(o.current.PublishedDate)
	if err != nil {
		return fmt.Errorf("find adjacent article: %w", err)
	}
	if a == nil {
		return nil
	}
	o.play(ctx, a)
	return nil
}

func (o *Orchestrator) play(ctx context.Context, a *database.Article) {
	o.cancelPending()
	o.stopEngine()

	o.current = a
	o.markedRead = false
	o.transition(o.articleState(Loading))

	if a.HasFullContent() {
		o.speak(*a.FullContent)
		return
	}
	if a.URL == "" || o.deps.Extractor == nil {
		o.speak(a.Content)
		return
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	o.cancelFetch = cancel
	gen := o.gen
	url := a.URL
	go func() {
		text, ok := o.deps.Extractor.FetchFullText(fetchCtx, url)
		select {
		case o.fetched <- fetchResult{gen: gen, text: text, ok: ok}:
		case <-fetchCtx.Done():
		}
	}()
}

// cancelPending abandons any in-flight fetch. Results of abandoned fetches
// carry an old generation and are dropped.
func (o *Orchestrator) cancelPending() {
	o.gen++
	if o.cancelFetch != nil {
		o.cancelFetch()
		o.cancelFetch = nil
	}
}

func (o *Orchestrator) onFetched(r fetchResult) {
	if r.gen != o.gen || o.current == nil || o.state.Status != Loading {
		log.Debugf("playback: dropping stale content fetch")
		return
	}
	if o.cancelFetch != nil {
		o.cancelFetch()
		o.cancelFetch = nil
	}

	if r.ok && r.text != "" {
		if err := o.deps.Store.UpdateFullContent(o.current.ID, r.text); err != nil {
			log.Warnf("playback: cache full text for %s: %v", o.current.ID, err)
		}
		text := r.text
		o.current.FullContent = &text
		o.speak(text)
		return
	}
	log.Infof("playback: no full text for %s, narrating summary content", o.current.ID)
	o.speak(o.current.Content)
}

func (o *Orchestrator) speak(text string) {
	a := o.current
	if !o.focusHeld {
		if o.deps.Focus != nil && !o.deps.Focus.Request() {
			o.fail(ErrFocusDenied)
			return
		}
		o.focusHeld = true
	}

	narration := a.Title + ". " + text
	o.applyLanguage(narration)

	chunks := SplitChunks(narration, o.opts.ChunkSize, o.opts.Lookback)
	o.utterances = make(map[string]int, len(chunks))
	for i, chunk := range chunks {
		mode := Enqueue
		if i == 0 {
			mode = Flush
		}
		o.seq++
		id := fmt.Sprintf("%s#%d", a.ID, o.seq)
		o.utterances[id] = i
		if err := o.deps.Engine.Speak(chunk, mode, id); err != nil {
			o.stopEngine()
			o.fail(fmt.Errorf("%w: %v", ErrEngine, err))
			return
		}
		if i == 0 && !o.markedRead {
			o.markedRead = true
			a.IsRead = true
			if err := o.deps.Store.MarkRead(a.ID); err != nil {
				log.Warnf("playback: mark %s read: %v", a.ID, err)
			}
		}
	}

	s := o.articleState(Playing)
	s.ChunkCount = len(chunks)
	s.Estimated = EstimateReadingTime(text)
	o.transition(s)
}

func (o *Orchestrator) applyLanguage(text string) {
	locale := o.opts.Language
	if o.deps.Detector != nil {
		if code, ok := o.deps.Detector.Detect(text); ok {
			locale = code
		}
	}
	if locale == o.language {
		return
	}
	if err := o.deps.Engine.SetLanguage(locale); err != nil {
		log.Warnf("playback: set language %s: %v", locale, err)
		return
	}
	o.language = locale
}

func (o *Orchestrator) pause() {
	switch o.state.Status {
	case Playing:
		o.stopEngine()
	case Loading:
		o.cancelPending()
	default:
		return
	}
	s := o.state
	s.Status = Paused
	o.transition(s)
}

func (o *Orchestrator) stop() {
	o.cancelPending()
	o.stopEngine()
	o.releaseFocus()
	o.current = nil
	o.transition(State{Status: Stopped})
}

func (o *Orchestrator) fail(err error) {
	log.Errorf("playback: %v", err)
	s := o.articleState(Error)
	s.Err = err.Error()
	o.transition(s)
}

func (o *Orchestrator) onEngineEvent(ev EngineEvent) {
	metrics.Utterances.WithLabelValues(ev.Kind.String()).Inc()

	idx, ok := o.utterances[ev.UtteranceID]
	if !ok || o.state.Status != Playing {
		log.Debugf("playback: ignoring %s for %s", ev.Kind, ev.UtteranceID)
		return
	}

	s := o.state
	switch ev.Kind {
	case EngineStart:
		s.ChunkIndex = idx
	case EngineDone:
		if idx < s.ChunkCount-1 {
			s.ChunkIndex = idx + 1
		} else {
			o.utterances = nil
			s.ChunkIndex = idx
			s.Status = Paused
		}
	case EngineError:
		o.stopEngine()
		err := fmt.Errorf("%w: utterance %s", ErrEngine, ev.UtteranceID)
		if ev.Err != nil {
			err = fmt.Errorf("%w: utterance %s: %v", ErrEngine, ev.UtteranceID, ev.Err)
		}
		o.fail(err)
		return
	}
	o.transition(s)
}

func (o *Orchestrator) onFocusEvent(ev FocusEvent) {
	log.Infof("playback: audio focus %s", ev)
	switch ev {
	case PermanentLoss:
		o.focusHeld = false
		if o.current == nil {
			return
		}
		o.cancelPending()
		o.stopEngine()
		o.releaseFocus()
		s := o.state
		s.Status = Stopped
		o.transition(s)
	case TransientLoss:
		o.focusHeld = false
		o.pause()
	case Regained:
		o.focusHeld = true
	}
}

func (o *Orchestrator) stopEngine() {
	pending := o.utterances != nil
	o.utterances = nil
	if !pending && !o.deps.Engine.IsSpeaking() {
		return
	}
	if err := o.deps.Engine.Stop(); err != nil {
		log.Warnf("playback: stop speech engine: %v", err)
	}
}

func (o *Orchestrator) releaseFocus() {
	if o.deps.Focus != nil {
		o.deps.Focus.Release()
	}
	o.focusHeld = false
}

func (o *Orchestrator) shutdown() {
	o.cancelPending()
	o.stopEngine()
	o.releaseFocus()
}

func (o *Orchestrator) articleState(status Status) State {
	s := State{Status: status}
	if o.current != nil {
		s.ArticleID = o.current.ID
		s.ArticleTitle = o.current.Title
		s.Source = o.current.Source
	}
	return s
}

// transition is the only writer of the published state.
func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	prev := o.state.Status
	o.state = s
	for ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	o.mu.Unlock()

	if prev != s.Status {
		metrics.PlaybackTransitions.WithLabelValues(s.Status.String()).Inc()
		log.WithFields(log.Fields{
			"from":    prev.String(),
			"to":      s.Status.String(),
			"article": s.ArticleID,
		}).Info("playback: transition")
	}
}
