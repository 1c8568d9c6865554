package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	t.Run("integers are little endian", func(t *testing.T) {
		w := NewWriter().Uint8(7).Uint16(0x0102).Uint32(0x01020304)
		assert.Equal(t, []byte{7, 0x02, 0x01, 0x04, 0x03, 0x02, 0x01}, w.Bytes())
	})

	t.Run("floats are network order", func(t *testing.T) {
		w := NewWriter().Float32(1.0)
		assert.Equal(t, []byte{0x3f, 0x80, 0x00, 0x00}, w.Bytes())
	})

	t.Run("strings carry a length prefix", func(t *testing.T) {
		w := NewWriter().String("hi")
		assert.Equal(t, []byte{2, 0, 0, 0, 'h', 'i'}, w.Bytes())
	})

	t.Run("empty buffer encodes zero length", func(t *testing.T) {
		w := NewWriter().Buffer(nil)
		assert.Equal(t, []byte{0, 0, 0, 0}, w.Bytes())
	})
}

func TestReader(t *testing.T) {
	t.Run("reads what the writer produced", func(t *testing.T) {
		w := NewWriter().
			Uint8(1).
			Uint32(42).
			Float32(-33.5).
			String("alice").
			Buffer([]byte{9, 8, 7}).
			Uint16(12242)

		r := NewReader(w.Bytes())

		u8, err := r.Uint8()
		require.NoError(t, err)
		assert.Equal(t, uint8(1), u8)

		u32, err := r.Uint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(42), u32)

		f, err := r.Float32()
		require.NoError(t, err)
		assert.Equal(t, float32(-33.5), f)

		s, err := r.String()
		require.NoError(t, err)
		assert.Equal(t, "alice", s)

		b, err := r.Buffer()
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8, 7}, b)

		u16, err := r.Uint16()
		require.NoError(t, err)
		assert.Equal(t, uint16(12242), u16)

		assert.Equal(t, 0, r.Remaining())
	})

	t.Run("truncated integer returns ErrShortBuffer", func(t *testing.T) {
		r := NewReader([]byte{1, 2})
		_, err := r.Uint32()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("length beyond payload returns ErrTooLarge", func(t *testing.T) {
		r := NewReader([]byte{0xff, 0, 0, 0, 'a'})
		_, err := r.String()
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("empty sub-buffer decodes as nil", func(t *testing.T) {
		r := NewReader([]byte{0, 0, 0, 0})
		b, err := r.Buffer()
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("Rest drains remaining bytes", func(t *testing.T) {
		r := NewReader([]byte{1, 2, 3})
		_, _ = r.Uint8()
		assert.Equal(t, []byte{2, 3}, r.Rest())
		assert.Equal(t, 0, r.Remaining())
	})
}

func TestFrames(t *testing.T) {
	t.Run("write then read", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, []byte{1, 2, 3}))
		require.NoError(t, WriteFrame(&buf, nil))

		assert.Equal(t, []byte{3, 0, 0, 0, 1, 2, 3, 0, 0, 0, 0}, buf.Bytes())

		first, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, first)

		second, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Empty(t, second)

		_, err = ReadFrame(&buf)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("oversized header is rejected", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
		assert.True(t, errors.Is(err, ErrTooLarge))
	})

	t.Run("truncated payload is unexpected EOF", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{4, 0, 0, 0, 1}))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})
}
