// Package codec implements the binary protocol envelope: the serial-version
// header, per-request payload framing, and the response status-byte
// dispatch (success decode vs. error-code demux). Per-operation body
// encoding/decoding is delegated to a Serializer/Deserializer pair bound to
// each Request; the pairs for GetTable and Query live in this package too
// (gettable.go, query.go).
package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SerialVersion is the wire protocol version this SDK speaks. It is written
// as the first two bytes of every request.
const SerialVersion int16 = 3

// Writer frames an outbound request body: serial version header first,
// then whatever the bound Serializer contributes.
type Writer struct {
	buf *bytes.Buffer
}

func NewWriter() *Writer {
	w := &Writer{buf: new(bytes.Buffer)}
	binary.Write(w.buf, binary.BigEndian, SerialVersion)
	return w
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) WriteByte(b byte) error { return w.buf.WriteByte(b) }

func (w *Writer) WriteInt32(v int32) { binary.Write(w.buf, binary.BigEndian, v) }

func (w *Writer) WriteInt64(v int64) { binary.Write(w.buf, binary.BigEndian, v) }

func (w *Writer) WriteBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// WriteBytes writes a length-prefixed (int32) byte slice; nil/empty encodes
// as length -1.
func (w *Writer) WriteBytes(b []byte) {
	if len(b) == 0 {
		w.WriteInt32(-1)
		return
	}
	w.WriteInt32(int32(len(b)))
	w.buf.Write(b)
}

// WriteString writes a length-prefixed (int32), UTF-8 string. A negative
// length prefix (-1) represents nil, matching the wire convention used by
// the server's string fields.
func (w *Writer) WriteString(s string) {
	if s == "" {
		w.WriteInt32(-1)
		return
	}
	b := []byte(s)
	w.WriteInt32(int32(len(b)))
	w.buf.Write(b)
}

// Reader parses an inbound response body after the status byte has already
// been consumed by the dispatcher.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

func (r *Reader) ReadByte() (byte, error) { return r.r.ReadByte() }

func (r *Reader) ReadInt32() (int32, error) {
	var v int32
	err := binary.Read(r.r, binary.BigEndian, &v)
	return v, err
}

func (r *Reader) ReadInt64() (int64, error) {
	var v int64
	err := binary.Read(r.r, binary.BigEndian, &v)
	return v, err
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	return b != 0, err
}

// ReadBytes reads a length-prefixed byte slice written by WriteBytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, fmt.Errorf("codec: short read for bytes of length %d: %w", n, err)
	}
	return buf, nil
}

// ReadString reads a length-prefixed UTF-8 string written by WriteString.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", fmt.Errorf("codec: short read for string of length %d: %w", n, err)
	}
	return string(buf), nil
}

// Serializer encodes one request's operation-specific payload. Serialize is
// called after the envelope's serial-version header has already been
// written.
type Serializer interface {
	Serialize(w *Writer) error
}

// Deserializer decodes one response's operation-specific payload, given the
// serial version in use (Dispatch passes this SDK's SerialVersion; the
// response body carries no version of its own).
type Deserializer interface {
	Deserialize(r *Reader, serialVersion int16) (*DecodedPayload, error)
}

// DecodedPayload is the generic shape every Deserializer produces. Only the
// field relevant to the originating operation is populated; the engine
// (which knows the concrete request type) reads the one it expects.
type DecodedPayload struct {
	ReadUnits  int
	WriteUnits int

	TableLimits *TableLimitsWire
	Query       *QueryPayload
}
