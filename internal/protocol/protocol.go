package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxMessage caps a single framed message. Matches the server-side limit.
const MaxMessage = 32 << 20

// Status codes carried in responses.
const (
	StatusOK       uint32 = 0
	StatusNotFound uint32 = 1
	StatusErr      uint32 = 2
)

var (
	ErrTooLong  = errors.New("protocol: message exceeds size limit")
	ErrBadFrame = errors.New("protocol: malformed frame")
)

// Response is one framed server reply.
type Response struct {
	Status uint32
	Data   []byte
}

// AppendRequest encodes cmd onto buf in the wire format:
// [len u32][nstr u32]([slen u32][bytes])*, little-endian, with len covering
// everything after the len field itself.
func AppendRequest(buf []byte, cmd ...string) []byte {
	msgLen := 4
	for _, s := range cmd {
		msgLen += 4 + len(s)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(msgLen))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cmd)))
	for _, s := range cmd {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// ReadResponse reads exactly one framed response from r. Any error leaves
// the stream in an undefined position; callers must not reuse it.
func ReadResponse(r *bufio.Reader) (Response, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxMessage {
		return Response{}, ErrTooLong
	}
	if n < 4 {
		return Response{}, ErrBadFrame
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Response{}, err
	}
	return Response{
		Status: binary.LittleEndian.Uint32(body[:4]),
		Data:   body[4:],
	}, nil
}

// WriteResponse frames and writes resp to w in a single Write call.
func WriteResponse(w io.Writer, resp Response) error {
	buf := make([]byte, 0, 8+len(resp.Data))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(4+len(resp.Data)))
	buf = binary.LittleEndian.AppendUint32(buf, resp.Status)
	buf = append(buf, resp.Data...)
	_, err := w.Write(buf)
	return err
}

// ReadRequest reads one framed request from r and decodes its strings.
func ReadRequest(r *bufio.Reader) ([]string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxMessage {
		return nil, ErrTooLong
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return parseRequest(body)
}

func parseRequest(body []byte) ([]string, error) {
	if len(body) < 4 {
		return nil, ErrBadFrame
	}
	nstr := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if nstr > MaxMessage {
		return nil, ErrBadFrame
	}
	out := make([]string, 0, nstr)
	for uint32(len(out)) < nstr {
		if len(body) < 4 {
			return nil, ErrBadFrame
		}
		slen := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < slen {
			return nil, ErrBadFrame
		}
		out = append(out, string(body[:slen]))
		body = body[slen:]
	}
	return out, nil
}
