package speech

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/newsreader/internal/playback"
)

// slowScript sleeps when its input is "slow" and exits at once otherwise.
var slowScript = []string{"sh", "-c", `if [ "$(cat)" = slow ]; then sleep 5; fi`}

func newEngine(t *testing.T, argv []string) *CommandEngine {
	t.Helper()
	e, err := New(argv, "vi")
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func next(t *testing.T, e *CommandEngine) playback.EngineEvent {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no engine event")
	}
	return playback.EngineEvent{}
}

func expect(t *testing.T, e *CommandEngine, kind playback.EngineEventKind, id string) playback.EngineEvent {
	t.Helper()
	ev := next(t, e)
	require.Equal(t, kind, ev.Kind, "event for %s", ev.UtteranceID)
	require.Equal(t, id, ev.UtteranceID)
	return ev
}

func TestSpeakReportsStartAndDone(t *testing.T) {
	e := newEngine(t, []string{"cat"})
	require.NoError(t, e.Speak("xin chào", playback.Flush, "a#1"))

	expect(t, e, playback.EngineStart, "a#1")
	expect(t, e, playback.EngineDone, "a#1")
	assert.Eventually(t, func() bool { return !e.IsSpeaking() }, time.Second, 5*time.Millisecond)
}

func TestQueuedUtterancesPlayInOrder(t *testing.T) {
	e := newEngine(t, []string{"cat"})
	require.NoError(t, e.Speak("một", playback.Flush, "a#1"))
	require.NoError(t, e.Speak("hai", playback.Enqueue, "a#2"))
	require.NoError(t, e.Speak("ba", playback.Enqueue, "a#3"))

	for _, id := range []string{"a#1", "a#2", "a#3"} {
		expect(t, e, playback.EngineStart, id)
		expect(t, e, playback.EngineDone, id)
	}
}

func TestFlushInterruptsRunningUtterance(t *testing.T) {
	e := newEngine(t, slowScript)
	require.NoError(t, e.Speak("slow", playback.Flush, "s#1"))
	require.NoError(t, e.Speak("fast", playback.Enqueue, "s#2"))
	expect(t, e, playback.EngineStart, "s#1")

	began := time.Now()
	require.NoError(t, e.Speak("fast", playback.Flush, "f#1"))
	expect(t, e, playback.EngineStart, "f#1")
	expect(t, e, playback.EngineDone, "f#1")
	assert.Less(t, time.Since(began), 3*time.Second)
}

func TestStopKillsAndReportsNothing(t *testing.T) {
	e := newEngine(t, slowScript)
	require.NoError(t, e.Speak("slow", playback.Flush, "s#1"))
	expect(t, e, playback.EngineStart, "s#1")
	assert.True(t, e.IsSpeaking())

	require.NoError(t, e.Stop())
	assert.Eventually(t, func() bool { return !e.IsSpeaking() }, 2*time.Second, 5*time.Millisecond)
	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event %s for %s", ev.Kind, ev.UtteranceID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFailingCommandReportsError(t *testing.T) {
	e := newEngine(t, []string{"sh", "-c", "cat >/dev/null; echo boom >&2; exit 3"})
	require.NoError(t, e.Speak("x", playback.Flush, "e#1"))

	expect(t, e, playback.EngineStart, "e#1")
	ev := expect(t, e, playback.EngineError, "e#1")
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "boom")
}

func TestMissingExecutableReportsError(t *testing.T) {
	e := newEngine(t, []string{"/nonexistent/tts-binary"})
	require.NoError(t, e.Speak("x", playback.Flush, "m#1"))

	ev := expect(t, e, playback.EngineError, "m#1")
	assert.Error(t, ev.Err)
}

func TestLanguagePlaceholder(t *testing.T) {
	e := newEngine(t, []string{"sh", "-c", `cat >/dev/null; test "$0" = en`, LangPlaceholder})

	require.NoError(t, e.SetLanguage("en"))
	assert.Equal(t, "en", e.Language())
	require.NoError(t, e.Speak("hello", playback.Flush, "l#1"))
	expect(t, e, playback.EngineStart, "l#1")
	expect(t, e, playback.EngineDone, "l#1")

	require.NoError(t, e.SetLanguage("vi"))
	require.NoError(t, e.Speak("xin chào", playback.Flush, "l#2"))
	expect(t, e, playback.EngineStart, "l#2")
	expect(t, e, playback.EngineError, "l#2")

	assert.Error(t, e.SetLanguage(""))
}

func TestRejections(t *testing.T) {
	_, err := New(nil, "vi")
	assert.Error(t, err)

	e := newEngine(t, []string{"cat"})
	assert.ErrorIs(t, e.Speak("  ", playback.Flush, "r#1"), ErrEmptyText)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Speak("x", playback.Flush, "r#2"), ErrClosed)
	assert.ErrorIs(t, e.Stop(), ErrClosed)
	_, open := <-e.Events()
	assert.False(t, open)
	assert.NoError(t, e.Close())
}
