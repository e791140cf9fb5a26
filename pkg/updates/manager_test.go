package updates

import (
	"bytes"
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleBuffersBeforeRun(t *testing.T) {
	var logBuf bytes.Buffer
	m := New(Config{
		Handler:      &collectingHandler{},
		Storage:      newMemStorage(),
		AccessHasher: &memHasher{},
		Logger:       zerolog.New(&logBuf),
	})
	ctx := context.Background()

	for i := 0; i < queueSize; i++ {
		require.NoError(t, m.Handle(ctx, &tg.UpdatesTooLong{}))
	}
	assert.Len(t, m.pending, queueSize)
	assert.Empty(t, logBuf.String())

	// Overflowing the buffer drops the update, but not silently.
	require.NoError(t, m.Handle(ctx, &tg.UpdatesTooLong{}))
	assert.Len(t, m.pending, queueSize)
	assert.Contains(t, logBuf.String(), "buffer is full")
}
