package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRequestWireFormat(t *testing.T) {
	got := AppendRequest(nil, "set", "key", "value")

	// [len=27][nstr=3][3 "set"][3 "key"][5 "value"] = 31 bytes total.
	require.Len(t, got, 31)
	assert.Equal(t, uint32(27), binary.LittleEndian.Uint32(got[0:4]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(got[4:8]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(got[8:12]))
	assert.Equal(t, "set", string(got[12:15]))
	assert.Equal(t, "value", string(got[26:31]))
}

func TestRequestRoundTrip(t *testing.T) {
	buf := AppendRequest(nil, "get", "some-key")
	cmd, err := ReadRequest(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "some-key"}, cmd)
}

func TestReadResponseSplitAcrossWrites(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, WriteResponse(&wire, Response{Status: StatusOK, Data: []byte("hello")}))

	// Feed the frame one byte at a time; ReadResponse must still assemble it.
	r := bufio.NewReader(iotest.OneByteReader(bytes.NewReader(wire.Bytes())))
	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Data)
}

func TestReadResponseRejectsOversizedFrame(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxMessage+1)
	_, err := ReadResponse(bufio.NewReader(bytes.NewReader(hdr[:])))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestReadResponseRejectsShortFrame(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 2) // shorter than the status field
	_, err := ReadResponse(bufio.NewReader(bytes.NewReader(append(hdr[:], 0, 0))))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestReadRequestRejectsTruncatedStrings(t *testing.T) {
	buf := AppendRequest(nil, "set", "key", "value")
	// Claim four strings but only encode three.
	binary.LittleEndian.PutUint32(buf[4:8], 4)
	_, err := ReadRequest(bufio.NewReader(bytes.NewReader(buf)))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestReadResponseEOF(t *testing.T) {
	_, err := ReadResponse(bufio.NewReader(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, io.EOF)
}
