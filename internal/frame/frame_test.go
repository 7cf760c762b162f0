package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"a":1}`),
		[]byte(""),
		bytes.Repeat([]byte("x"), 4096),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, p := range payloads {
		require.NoError(t, enc.Write(p))
	}

	dec := NewDecoder(&buf, 0)
	for _, want := range payloads {
		got, err := dec.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderShortHeader(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0, 1}), 0)
	_, err := dec.Next()
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, ShortHeader, ferr.Kind)
}

func TestDecoderShortBody(t *testing.T) {
	var hdr [4]byte
	hdr[3] = 10 // claims 10 bytes, supplies none
	dec := NewDecoder(bytes.NewReader(hdr[:]), 0)
	_, err := dec.Next()
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, ShortBody, ferr.Kind)
}

func TestDecoderLengthTooLarge(t *testing.T) {
	var hdr [4]byte
	hdr[0] = 0xFF // length >> maxFrame
	dec := NewDecoder(bytes.NewReader(hdr[:]), 100)
	_, err := dec.Next()
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, LengthTooLarge, ferr.Kind)
}

func TestCleanEOFBetweenFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Write([]byte("ok")))

	dec := NewDecoder(&buf, 0)
	_, err := dec.Next()
	require.NoError(t, err)

	_, err = dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestConcatenatedFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range want {
		require.NoError(t, enc.Write(p))
	}

	dec := NewDecoder(&buf, 0)
	var got [][]byte
	for {
		p, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	require.Equal(t, want, got)
}
