package chunkstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextProducesOneChunk(t *testing.T) {
	// Given: text shorter than the target size
	text := "a short document"

	// When: splitting with defaults
	chunks := Split(text, SplitterConfig{}, "doc-1", Payload{DocumentID: "doc-1"})

	// Then: exactly one chunk covers the whole text
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(text), chunks[0].EndChar)
	assert.Empty(t, chunks[0].PrevNodeID)
	assert.Empty(t, chunks[0].NextNodeID)
}

func TestSplit_LongTextProducesOverlappingChunks(t *testing.T) {
	// Given: text well beyond one target-size window
	para := strings.Repeat("word ", 100) // 500 chars
	text := strings.Join([]string{para, para, para, para, para, para, para}, "\n\n")

	// When: splitting with a small target size and overlap
	cfg := SplitterConfig{TargetSize: 600, Overlap: 100}
	chunks := Split(text, cfg, "doc-2", Payload{DocumentID: "doc-2"})

	// Then: multiple chunks are produced, linked, and order-preserving
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].NodeID, chunks[i].PrevNodeID)
		assert.Equal(t, chunks[i].NodeID, chunks[i-1].NextNodeID)
		assert.LessOrEqual(t, chunks[i-1].StartChar, chunks[i].StartChar)
	}
}

func TestSplit_EmptyTextProducesNoChunks(t *testing.T) {
	// Given/When: splitting whitespace-only text
	chunks := Split("   \n  ", SplitterConfig{}, "doc-3", Payload{})

	// Then: no chunks are produced
	assert.Empty(t, chunks)
}

func TestStore_PutAndByDocument_PreservesOrder(t *testing.T) {
	// Given: a store and chunks for one document
	store := NewStore()
	text := strings.Repeat("sentence. ", 400)
	chunks := Split(text, SplitterConfig{TargetSize: 500, Overlap: 50}, "doc-4", Payload{DocumentID: "doc-4"})
	require.Greater(t, len(chunks), 1)

	// When: storing then retrieving by document
	store.Put(chunks)
	got := store.ByDocument("doc-4")

	// Then: chunks come back in original order
	require.Len(t, got, len(chunks))
	for i := range chunks {
		assert.Equal(t, chunks[i].NodeID, got[i].NodeID)
	}
}

func TestStore_DeleteDocument_RemovesAllChunks(t *testing.T) {
	// Given: a store with one document's chunks
	store := NewStore()
	chunks := Split("some content here", SplitterConfig{}, "doc-5", Payload{DocumentID: "doc-5"})
	store.Put(chunks)
	require.Equal(t, 1, store.Count())

	// When: deleting the document
	store.DeleteDocument("doc-5")

	// Then: its chunks are gone
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.ByDocument("doc-5"))
}
