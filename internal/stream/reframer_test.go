package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamBody = "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"1. Mobile\"}}]}\n\n" +
	"data: not-json\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" friendly\"}}]}\n\n" +
	"data: {\"choices\":[{\"text\":\" design\"}]}\n\n" +
	"data: [DONE]\n\n"

type recorder struct {
	deltas []string
	done   int
}

func (r *recorder) reframer() *Reframer {
	return NewReframer(func(text string) error {
		r.deltas = append(r.deltas, text)
		return nil
	}, func() { r.done++ })
}

func TestReframerChunkBoundaryInvariance(t *testing.T) {
	whole := &recorder{}
	rf := whole.reframer()
	_, err := rf.Write([]byte(upstreamBody))
	require.ErrorIs(t, err, ErrTerminated)
	require.NoError(t, rf.Close())

	want := []string{"1. Mobile", " friendly", " design"}
	assert.Equal(t, want, whole.deltas)
	assert.Equal(t, 1, whole.done)

	for size := 1; size <= len(upstreamBody); size++ {
		rec := &recorder{}
		rf := rec.reframer()
		body := []byte(upstreamBody)
		for len(body) > 0 {
			n := size
			if n > len(body) {
				n = len(body)
			}
			if _, err := rf.Write(body[:n]); err != nil {
				require.ErrorIs(t, err, ErrTerminated)
			}
			body = body[n:]
		}
		require.NoError(t, rf.Close())
		assert.Equal(t, want, rec.deltas, "chunk size %d", size)
		assert.Equal(t, 1, rec.done, "chunk size %d", size)
	}
}

func TestReframerSentinelMidBufferStopsProcessing(t *testing.T) {
	rec := &recorder{}
	rf := rec.reframer()

	_, err := rf.Write([]byte("data: {\"choices\":[{\"text\":\"a\"}]}\n\ndata: [DONE]\n\ndata: {\"choices\":[{\"text\":\"b\"}]}\n\n"))
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Equal(t, []string{"a"}, rec.deltas)

	_, err = rf.Write([]byte("data: {\"choices\":[{\"text\":\"c\"}]}\n\n"))
	assert.ErrorIs(t, err, ErrTerminated)
	require.NoError(t, rf.Close())

	assert.Equal(t, []string{"a"}, rec.deltas)
	assert.Equal(t, 1, rec.done)
	assert.True(t, rf.Done())
}

func TestReframerSentinelAsFinalUnterminatedBytes(t *testing.T) {
	rec := &recorder{}
	rf := rec.reframer()

	_, err := rf.Write([]byte("data: {\"choices\":[{\"text\":\"a\"}]}\n\ndata: [DONE]"))
	require.NoError(t, err)
	assert.Zero(t, rec.done)

	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())
	assert.Equal(t, 1, rec.done)
}

func TestReframerTransportEndWithoutSentinel(t *testing.T) {
	rec := &recorder{}
	rf := rec.reframer()

	_, err := io.Copy(rf, strings.NewReader("data: {\"choices\":[{\"text\":\"a\"}]}\n\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Close())

	assert.Equal(t, []string{"a"}, rec.deltas)
	assert.Equal(t, 1, rec.done)
}

func TestReframerDropsMalformedPayloads(t *testing.T) {
	rec := &recorder{}
	rf := rec.reframer()

	_, err := rf.Write([]byte("data: {oops\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\ndata: {\"choices\":[{\"text\":\"ok\"}]}\n\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, rec.deltas)
	assert.Equal(t, 1, rf.Dropped())
	assert.False(t, rf.Done())
}

func TestReframerEmitFailureStops(t *testing.T) {
	sinkErr := errors.New("client went away")
	calls := 0
	rf := NewReframer(func(string) error {
		calls++
		return sinkErr
	}, nil)

	_, err := io.Copy(rf, bytes.NewReader([]byte("data: {\"choices\":[{\"text\":\"a\"}]}\n\ndata: {\"choices\":[{\"text\":\"b\"}]}\n\n")))
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, rf.Close(), sinkErr)
	assert.False(t, rf.Done())
}
