package playback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunksAtSentenceEnds(t *testing.T) {
	sentence := "Một câu tiếng Việt dài vừa phải. "
	text := strings.Repeat(sentence, 7000/len([]rune(sentence)))
	require.InDelta(t, 7000, len([]rune(text)), 40)

	chunks := SplitChunks(text, DefaultChunkSize, DefaultLookback)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for i, c := range chunks {
		runes := []rune(c)
		assert.LessOrEqual(t, len(runes), DefaultChunkSize)
		if i < len(chunks)-1 {
			assert.Equal(t, '.', runes[len(runes)-1], "chunk %d", i)
		}
	}
}

func TestSplitChunksHardSplit(t *testing.T) {
	chunks := SplitChunks(strings.Repeat("a", 8000), 3500, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3500)
	assert.Len(t, chunks[1], 3500)
	assert.Len(t, chunks[2], 1000)
}

func TestSplitChunksLineBreak(t *testing.T) {
	text := strings.Repeat("x", 3450) + "\n" + strings.Repeat("y", 100)
	chunks := SplitChunks(text, 3500, 100)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(chunks[0], "\n"))
	assert.Len(t, chunks[0], 3451)
}

func TestSplitChunksBoundaryOutsideLookback(t *testing.T) {
	text := strings.Repeat("x", 3000) + "." + strings.Repeat("y", 1000)
	chunks := SplitChunks(text, 3500, 100)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 3500)
}

func TestSplitChunksCountsRunes(t *testing.T) {
	text := strings.Repeat("ệ", 10)
	chunks := SplitChunks(text, 4, 2)
	assert.Equal(t, []string{"ệệệệ", "ệệệệ", "ệệ"}, chunks)
}

func TestSplitChunksShortAndEmpty(t *testing.T) {
	assert.Nil(t, SplitChunks("", 3500, 100))
	assert.Equal(t, []string{"ngắn."}, SplitChunks("ngắn.", 3500, 100))
}

func TestEstimateReadingTime(t *testing.T) {
	assert.Equal(t, 2*time.Minute, EstimateReadingTime(strings.Repeat("từ ", 300)))
	assert.Equal(t, 400*time.Millisecond, EstimateReadingTime("một"))
	assert.Zero(t, EstimateReadingTime("   "))
}
