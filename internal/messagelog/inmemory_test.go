package messagelog

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
)

func TestInMemoryLog_Append(t *testing.T) {
	log := NewInMemoryLog()
	defer log.Close()
	ctx := context.Background()

	first, err := log.Append(ctx, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Offset)

	second, err := log.Append(ctx, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Offset)
	assert.False(t, second.Time.IsZero())

	n, err := log.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInMemoryLog_AppendCopiesInput(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	msg := []byte("abc")
	_, err := log.Append(ctx, msg)
	require.NoError(t, err)
	msg[0] = 'X'

	entries, err := log.Read(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), entries[0].Message)
}

func TestInMemoryLog_Disabled(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	_, err := log.Append(ctx, []byte("kept"))
	require.NoError(t, err)

	log.SetEnabled(false)
	assert.False(t, log.Enabled())
	_, err = log.Append(ctx, []byte("dropped"))
	assert.ErrorIs(t, err, messagelog.ErrLogDisabled)

	log.SetEnabled(true)
	entry, err := log.Append(ctx, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Offset)
}

func TestInMemoryLog_Read(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	t.Run("window", func(t *testing.T) {
		entries, err := log.Read(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "m1", string(entries[0].Message))
		assert.Equal(t, "m2", string(entries[1].Message))
	})

	t.Run("past_end", func(t *testing.T) {
		entries, err := log.Read(ctx, 10, 2)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("clamped", func(t *testing.T) {
		entries, err := log.Read(ctx, 3, 100)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("invalid_args", func(t *testing.T) {
		_, err := log.Read(ctx, -1, 1)
		assert.ErrorIs(t, err, ErrNegativeOffset)
		_, err = log.Read(ctx, 0, -1)
		assert.ErrorIs(t, err, ErrNegativeMaxCount)
	})
}

func TestInMemoryLog_Replay(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}

	entries, errs := log.Replay(ctx, 1)
	var got []string
	for e := range entries {
		got = append(got, string(e.Message))
	}
	assert.NoError(t, <-errs)
	assert.Equal(t, []string{"b", "c"}, got)

	_, errs = log.Replay(ctx, -1)
	assert.ErrorIs(t, <-errs, ErrNegativeOffset)
}

func TestInMemoryLog_ConcurrentAppend(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = log.Append(ctx, []byte("x"))
		}()
	}
	wg.Wait()

	entries, err := log.Read(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.Offset)
	}
}

func TestInMemoryLog_Dump(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()
	_, _ = log.Append(ctx, []byte("r[\"tcp\",\"h\"]\x00hi"))
	_, _ = log.Append(ctx, []byte("bad"))

	var buf bytes.Buffer
	require.NoError(t, log.Dump(&buf))
	assert.Equal(t, "[\n    \"r[\\\"tcp\\\",\\\"h\\\"]\\x00hi\",\n    \"bad\"\n]\n", buf.String())
}

func TestInMemoryLog_Close(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	_, err := log.Append(ctx, []byte("x"))
	assert.ErrorIs(t, err, messagelog.ErrLogClosed)
	_, err = log.Read(ctx, 0, 1)
	assert.ErrorIs(t, err, messagelog.ErrLogClosed)
}
