package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_UnderLimitReturnsSingleChunk(t *testing.T) {
	chunks := splitMessage("short message", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short message", chunks[0])
}

func TestSplitMessage_OverLimitSplitsIntoMultipleChunks(t *testing.T) {
	msg := ""
	for i := 0; i < 250; i++ {
		msg += "x"
	}
	chunks := splitMessage(msg, 100)
	require.Len(t, chunks, 3)

	var rejoined string
	for _, c := range chunks {
		rejoined += c
	}
	assert.Equal(t, msg, rejoined)
}

func TestSplitMessage_DoesNotSplitMultiByteRune(t *testing.T) {
	// each "é" is 2 bytes in UTF-8; a limit landing mid-rune must not
	// produce an invalid chunk boundary.
	msg := ""
	for i := 0; i < 10; i++ {
		msg += "é"
	}
	chunks := splitMessage(msg, 5)
	for _, c := range chunks {
		for _, r := range c {
			assert.NotEqual(t, '�', r)
		}
	}
}
