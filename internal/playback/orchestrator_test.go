package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/newsreader/internal/database"
)

type fakeStore struct {
	mu       sync.Mutex
	articles map[string]database.Article
	reads    map[string]int
	cached   map[string]string
}

func newFakeStore(articles ...database.Article) *fakeStore {
	s := &fakeStore{
		articles: make(map[string]database.Article),
		reads:    make(map[string]int),
		cached:   make(map[string]string),
	}
	for _, a := range articles {
		s.articles[a.ID] = a
	}
	return s
}

func (s *fakeStore) Get(id string) (*database.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *fakeStore) adjacent(match func(int64) bool, better func(a, b int64) bool) *database.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *database.Article
	for _, a := range s.articles {
		if !match(a.PublishedDate) {
			continue
		}
		if best == nil || better(a.PublishedDate, best.PublishedDate) {
			a := a
			best = &a
		}
	}
	return best
}

func (s *fakeStore) GetNext(after int64) (*database.Article, error) {
	return s.adjacent(func(p int64) bool { return p > after }, func(a, b int64) bool { return a < b }), nil
}

func (s *fakeStore) GetPrevious(before int64) (*database.Article, error) {
	return s.adjacent(func(p int64) bool { return p < before }, func(a, b int64) bool { return a > b }), nil
}

func (s *fakeStore) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[id]++
	return nil
}

func (s *fakeStore) UpdateFullContent(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[id] = text
	return nil
}

func (s *fakeStore) readCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[id]
}

func (s *fakeStore) cachedText(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.cached[id]
	return text, ok
}

type utterance struct {
	text string
	mode Mode
	id   string
}

type fakeEngine struct {
	mu        sync.Mutex
	spoken    []utterance
	languages []string
	stops     int
	speaking  bool
	speakErr  error
	events    chan EngineEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan EngineEvent, 16)}
}

func (e *fakeEngine) Speak(text string, mode Mode, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.speakErr != nil {
		return e.speakErr
	}
	e.spoken = append(e.spoken, utterance{text: text, mode: mode, id: id})
	e.speaking = true
	return nil
}

func (e *fakeEngine) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.speaking = false
	return nil
}

func (e *fakeEngine) SetLanguage(locale string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.languages = append(e.languages, locale)
	return nil
}

func (e *fakeEngine) Events() <-chan EngineEvent { return e.events }

func (e *fakeEngine) utterances() []utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]utterance(nil), e.spoken...)
}

func (e *fakeEngine) langs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.languages...)
}

type fakeFocus struct {
	mu       sync.Mutex
	deny     bool
	requests int
	releases int
	events   chan FocusEvent
}

func newFakeFocus() *fakeFocus {
	return &fakeFocus{events: make(chan FocusEvent, 4)}
}

func (f *fakeFocus) Request() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return !f.deny
}

func (f *fakeFocus) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeFocus) Events() <-chan FocusEvent { return f.events }

func (f *fakeFocus) counts() (requests, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.releases
}

// mapExtractor returns canned text per URL; missing URLs are absent.
type mapExtractor map[string]string

func (m mapExtractor) FetchFullText(_ context.Context, url string) (string, bool) {
	text, ok := m[url]
	return text, ok
}

// blockingExtractor blocks until its context is cancelled, then returns a
// result anyway, like a fetch that ignores cancellation.
type blockingExtractor struct {
	started   chan string
	cancelled chan string
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{started: make(chan string, 4), cancelled: make(chan string, 4)}
}

func (b *blockingExtractor) FetchFullText(ctx context.Context, url string) (string, bool) {
	b.started <- url
	<-ctx.Done()
	b.cancelled <- url
	return "stale text", true
}

type fixture struct {
	o      *Orchestrator
	store  *fakeStore
	engine *fakeEngine
	focus  *fakeFocus
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, store *fakeStore, ex Extractor, detector LanguageDetector) *fixture {
	t.Helper()
	f := &fixture{store: store, engine: newFakeEngine(), focus: newFakeFocus(), done: make(chan error, 1)}
	f.o = New(Deps{Store: store, Extractor: ex, Engine: f.engine, Focus: f.focus, Detector: detector}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	return f
}

func (f *fixture) waitStatus(t *testing.T, want Status) State {
	t.Helper()
	require.Eventually(t, func() bool { return f.o.State().Status == want },
		2*time.Second, 5*time.Millisecond, "waiting for %s, have %s", want, f.o.State().Status)
	return f.o.State()
}

func cached(id, title, text string, published int64) database.Article {
	return database.Article{ID: id, Title: title, Content: "tóm tắt " + id, FullContent: &text, PublishedDate: published}
}

func uncached(id, url string, published int64) database.Article {
	return database.Article{ID: id, Title: "Tin " + id, Content: "tóm tắt " + id, URL: url, PublishedDate: published}
}

var bg = context.Background()

func TestPlayCachedSpeaksImmediately(t *testing.T) {
	a := cached("a", "Tiêu đề", "Nội dung đầy đủ.", 1000)
	f := start(t, newFakeStore(a), mapExtractor{}, nil)

	require.NoError(t, f.o.Play(bg, a))
	s := f.waitStatus(t, Playing)

	assert.Equal(t, "a", s.ArticleID)
	assert.Equal(t, "Tiêu đề", s.ArticleTitle)
	assert.Equal(t, 1, s.ChunkCount)
	spoken := f.engine.utterances()
	require.Len(t, spoken, 1)
	assert.Equal(t, "Tiêu đề. Nội dung đầy đủ.", spoken[0].text)
	assert.Equal(t, Flush, spoken[0].mode)
	assert.Equal(t, 1, f.store.readCount("a"))
	_, wrote := f.store.cachedText("a")
	assert.False(t, wrote)
}

func TestPlayFetchesAndCachesFullText(t *testing.T) {
	a := uncached("a", "https://example.com/a", 1000)
	f := start(t, newFakeStore(a), mapExtractor{"https://example.com/a": "Toàn văn bài viết."}, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)

	text, ok := f.store.cachedText("a")
	assert.True(t, ok)
	assert.Equal(t, "Toàn văn bài viết.", text)
	assert.Equal(t, "Tin a. Toàn văn bài viết.", f.engine.utterances()[0].text)
}

func TestPlayUsesStoredFullText(t *testing.T) {
	stored := cached("a", "Tin a", "Đã lưu.", 1000)
	f := start(t, newFakeStore(stored), mapExtractor{}, nil)

	require.NoError(t, f.o.Play(bg, uncached("a", "https://example.com/a", 1000)))
	f.waitStatus(t, Playing)
	assert.Equal(t, "Tin a. Đã lưu.", f.engine.utterances()[0].text)
}

func TestPlayFallsBackToContent(t *testing.T) {
	a := uncached("a", "https://example.com/a", 1000)
	f := start(t, newFakeStore(a), mapExtractor{}, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	assert.Equal(t, "Tin a. tóm tắt a", f.engine.utterances()[0].text)
	_, wrote := f.store.cachedText("a")
	assert.False(t, wrote)
}

func TestPlayWithoutURLSpeaksContent(t *testing.T) {
	a := uncached("a", "", 1000)
	f := start(t, newFakeStore(a), newBlockingExtractor(), nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	assert.Equal(t, "Tin a. tóm tắt a", f.engine.utterances()[0].text)
}

func TestPlayCancelsStaleFetch(t *testing.T) {
	a := uncached("a", "https://example.com/a", 1000)
	b := cached("b", "Tin b", "Bài b.", 2000)
	ex := newBlockingExtractor()
	f := start(t, newFakeStore(a, b), ex, nil)

	require.NoError(t, f.o.Play(bg, a))
	assert.Equal(t, "https://example.com/a", <-ex.started)
	assert.Equal(t, Loading, f.o.State().Status)

	require.NoError(t, f.o.Play(bg, b))
	s := f.waitStatus(t, Playing)
	assert.Equal(t, "b", s.ArticleID)

	select {
	case url := <-ex.cancelled:
		assert.Equal(t, "https://example.com/a", url)
	case <-time.After(2 * time.Second):
		t.Fatal("stale fetch was not cancelled")
	}
	assert.Never(t, func() bool {
		_, wrote := f.store.cachedText("a")
		return wrote
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "b", f.o.State().ArticleID)
	assert.Zero(t, f.store.readCount("a"))
}

func TestLongArticleChunksAndMarksReadOnce(t *testing.T) {
	long := strings.Repeat("Một câu tiếng Việt dài vừa phải. ", 212)
	a := cached("a", "Dài", long, 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	s := f.waitStatus(t, Playing)

	spoken := f.engine.utterances()
	require.Len(t, spoken, s.ChunkCount)
	require.GreaterOrEqual(t, len(spoken), 2)
	assert.Equal(t, Flush, spoken[0].mode)
	var joined strings.Builder
	for i, u := range spoken {
		if i > 0 {
			assert.Equal(t, Enqueue, u.mode)
		}
		assert.True(t, strings.HasPrefix(u.id, "a#"))
		joined.WriteString(u.text)
	}
	assert.Equal(t, "Dài. "+long, joined.String())
	assert.Equal(t, 1, f.store.readCount("a"))
	assert.Equal(t, EstimateReadingTime(long), s.Estimated)
}

func TestEngineEventsAdvanceChunks(t *testing.T) {
	long := strings.Repeat("x", 3400) + ". " + strings.Repeat("y", 200)
	a := cached("a", "T", long, 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	spoken := f.engine.utterances()
	require.Len(t, spoken, 2)

	f.engine.events <- EngineEvent{Kind: EngineStart, UtteranceID: spoken[0].id}
	f.engine.events <- EngineEvent{Kind: EngineDone, UtteranceID: spoken[0].id}
	require.Eventually(t, func() bool { return f.o.State().ChunkIndex == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Playing, f.o.State().Status)

	f.engine.events <- EngineEvent{Kind: EngineDone, UtteranceID: spoken[1].id}
	s := f.waitStatus(t, Paused)
	assert.Equal(t, "a", s.ArticleID)
}

func TestStaleUtteranceIgnored(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	old := f.engine.utterances()[0].id

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	fresh := f.engine.utterances()[1].id
	assert.NotEqual(t, old, fresh)

	f.engine.events <- EngineEvent{Kind: EngineDone, UtteranceID: old}
	f.engine.events <- EngineEvent{Kind: EngineError, UtteranceID: "other#1"}
	assert.Never(t, func() bool { return f.o.State().Status != Playing }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestEngineErrorEvent(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	f.engine.events <- EngineEvent{Kind: EngineError, UtteranceID: f.engine.utterances()[0].id, Err: errors.New("exit 1")}

	s := f.waitStatus(t, Error)
	assert.Contains(t, s.Err, ErrEngine.Error())
	assert.Contains(t, s.Err, "exit 1")
	assert.Equal(t, "a", s.ArticleID)
}

func TestSpeakRejected(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)
	f.engine.speakErr = errors.New("engine closed")

	require.NoError(t, f.o.Play(bg, a))
	s := f.waitStatus(t, Error)
	assert.Contains(t, s.Err, "engine closed")
	assert.Zero(t, f.store.readCount("a"))
}

func TestFocusDenied(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)
	f.focus.deny = true

	require.NoError(t, f.o.Play(bg, a))
	s := f.waitStatus(t, Error)
	assert.Equal(t, ErrFocusDenied.Error(), s.Err)
	assert.Empty(t, f.engine.utterances())
}

func TestPauseAndResume(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Pause(bg))
	assert.Equal(t, Idle, f.o.State().Status)
	assert.ErrorIs(t, f.o.Resume(bg), ErrNoArticle)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	require.NoError(t, f.o.Pause(bg))
	s := f.waitStatus(t, Paused)
	assert.Equal(t, "a", s.ArticleID)
	assert.False(t, f.engine.IsSpeaking())

	require.NoError(t, f.o.Resume(bg))
	f.waitStatus(t, Playing)
	assert.Len(t, f.engine.utterances(), 2)
	assert.Equal(t, 2, f.store.readCount("a"))
	requests, _ := f.focus.counts()
	assert.Equal(t, 1, requests, "focus is still held")
}

func TestPauseWhileLoadingCancelsFetch(t *testing.T) {
	a := uncached("a", "https://example.com/a", 1000)
	ex := newBlockingExtractor()
	f := start(t, newFakeStore(a), ex, nil)

	require.NoError(t, f.o.Play(bg, a))
	<-ex.started
	require.NoError(t, f.o.Pause(bg))
	f.waitStatus(t, Paused)

	select {
	case <-ex.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
	assert.Never(t, func() bool {
		_, wrote := f.store.cachedText("a")
		return wrote
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, Paused, f.o.State().Status)
}

func TestStopClearsArticle(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	require.NoError(t, f.o.Stop(bg))

	s := f.waitStatus(t, Stopped)
	assert.Empty(t, s.ArticleID)
	_, releases := f.focus.counts()
	assert.Equal(t, 1, releases)
	assert.ErrorIs(t, f.o.Resume(bg), ErrNoArticle)
	require.NoError(t, f.o.Next(bg))
	assert.Equal(t, Stopped, f.o.State().Status)
}

func TestNextWithoutLaterArticleIsNoop(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	before := f.waitStatus(t, Playing)
	require.NoError(t, f.o.Next(bg))

	assert.Equal(t, before, f.o.State())
	assert.Len(t, f.engine.utterances(), 1)
}

func TestNextAndPrevious(t *testing.T) {
	a := cached("a", "A", "Bài a.", 1000)
	b := cached("b", "B", "Bài b.", 2000)
	c := cached("c", "C", "Bài c.", 3000)
	f := start(t, newFakeStore(a, b, c), nil, nil)

	require.NoError(t, f.o.Play(bg, b))
	f.waitStatus(t, Playing)

	require.NoError(t, f.o.Next(bg))
	assert.Equal(t, "c", f.waitStatus(t, Playing).ArticleID)

	require.NoError(t, f.o.Previous(bg))
	require.NoError(t, f.o.Previous(bg))
	assert.Equal(t, "a", f.waitStatus(t, Playing).ArticleID)
}

func TestPlayID(t *testing.T) {
	a := cached("a", "A", "Bài a.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.PlayID(bg, "a"))
	assert.Equal(t, "a", f.waitStatus(t, Playing).ArticleID)
	assert.ErrorIs(t, f.o.PlayID(bg, "missing"), ErrNoArticle)
}

func TestPermanentFocusLoss(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	f.focus.events <- PermanentLoss

	s := f.waitStatus(t, Stopped)
	assert.Equal(t, "a", s.ArticleID, "article is kept")
	assert.False(t, f.engine.IsSpeaking())
	_, releases := f.focus.counts()
	assert.Equal(t, 1, releases)

	require.NoError(t, f.o.Resume(bg))
	f.waitStatus(t, Playing)
	requests, _ := f.focus.counts()
	assert.Equal(t, 2, requests)
}

func TestTransientFocusLoss(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	f.focus.events <- TransientLoss

	s := f.waitStatus(t, Paused)
	assert.Equal(t, "a", s.ArticleID)
	_, releases := f.focus.counts()
	assert.Zero(t, releases)

	f.focus.events <- Regained
	assert.Never(t, func() bool { return f.o.State().Status != Paused }, 50*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, f.o.Resume(bg))
	f.waitStatus(t, Playing)
	requests, _ := f.focus.counts()
	assert.Equal(t, 1, requests, "regained focus is held again")
}

type prefixDetector struct{}

func (prefixDetector) Detect(text string) (string, bool) {
	if strings.Contains(text, "English") {
		return "en", true
	}
	if strings.Contains(text, "???") {
		return "", false
	}
	return "vi", true
}

func TestLanguageFollowsDetection(t *testing.T) {
	en := cached("en", "English news", "Some text.", 1000)
	en2 := cached("en2", "More English", "Other text.", 2000)
	vi := cached("vi", "Tin tức", "Nội dung.", 3000)
	unknown := cached("unk", "???", "?", 4000)
	f := start(t, newFakeStore(en, en2, vi, unknown), nil, prefixDetector{})

	for _, a := range []database.Article{en, en2, vi, unknown} {
		require.NoError(t, f.o.Play(bg, a))
		f.waitStatus(t, Playing)
	}
	assert.Equal(t, []string{"en", "vi"}, f.engine.langs())
}

func TestDefaultLanguageAppliedOnce(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	require.NoError(t, f.o.Play(bg, a))
	f.waitStatus(t, Playing)
	assert.Equal(t, []string{"vi"}, f.engine.langs())
}

func TestSubscribeSeesLatestState(t *testing.T) {
	a := cached("a", "T", "Nội dung.", 1000)
	f := start(t, newFakeStore(a), nil, nil)

	ch := f.o.Subscribe()
	assert.Equal(t, Idle, (<-ch).Status)

	require.NoError(t, f.o.Play(bg, a))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Status == Playing {
				f.o.Unsubscribe(ch)
				_, open := <-ch
				assert.False(t, open)
				return
			}
		case <-deadline:
			t.Fatal("no playing state delivered")
		}
	}
}

func TestCommandsAfterLoopExit(t *testing.T) {
	f := start(t, newFakeStore(), nil, nil)
	f.cancel()
	assert.ErrorIs(t, <-f.done, context.Canceled)
	f.done <- nil

	assert.ErrorIs(t, f.o.Pause(bg), ErrClosed)
	assert.Error(t, f.o.Run(bg))
}
