package node

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/shadowmail/internal/object"
)

func TestReadWriteMessageRoundTrip(t *testing.T) {
	hashes := [][]byte{{0x01, 0x02}, {0x03, 0x04}}
	want := object.NewInv(hashes)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, want))

	got, err := ReadMessage(&buf, 1<<20)
	require.NoError(t, err)
	require.Equal(t, object.CommandInv, got.Command)
	require.Len(t, got.Payload.Hashes, 2)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	want := object.NewReqInv()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, want))

	_, err := ReadMessage(&buf, 1)
	require.Error(t, err, "expected ReadMessage to reject a frame larger than maxFrameBytes")
}

func TestReadMessageOnEmptyReaderReturnsError(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil), 1<<20)
	require.Error(t, err, "expected an error reading from an empty source")
}
