// Package netproto implements the binary wire framing of spec §6: a
// length-prefixed message envelope plus encode/decode for every message
// type a client/server transport would exchange. No example repo in the
// pack ships a bespoke database wire protocol to imitate, so this is
// built directly on encoding/binary — the same fixed-width field
// marshal/unmarshal internal/storage/wal already uses for its own
// on-disk record framing, just big-endian instead of little-endian
// since spec §3 fixes disk as little-endian and §6 fixes the wire as
// big-endian.
//
// This package implements encode/decode only; no listening socket. The
// transport loop that reads/writes these frames over a net.Conn is the
// explicit external collaborator spec §1 places out of scope.
package netproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/qindb/qindb/internal/dberr"
)

// MessageType identifies a frame's payload shape.
type MessageType uint8

const (
	AuthRequest    MessageType = 0x01
	AuthResponse   MessageType = 0x02
	QueryRequest   MessageType = 0x10
	QueryResponse  MessageType = 0x11
	ErrorResponse  MessageType = 0x20
	Ping           MessageType = 0x30
	Pong           MessageType = 0x31
	Disconnect     MessageType = 0x32
	BeginMessage   MessageType = 0x40
	CommitMessage  MessageType = 0x41
	RollbackMsg    MessageType = 0x42
)

// DefaultPort is the engine's default TCP listen port.
const DefaultPort = 24678

// Frame is one decoded message: its type and the still-encoded payload.
// Callers dispatch on Type and call the matching Decode* function.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame writes a length-prefixed frame: 4-byte big-endian length
// (of type byte + payload), then the type byte, then payload.
func WriteFrame(w io.Writer, typ MessageType, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write frame length")
	}
	if _, err := w.Write([]byte{byte(typ)}); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write frame type")
	}
	if _, err := w.Write(payload); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, dberr.Wrap(dberr.IOError, err, "read frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, dberr.New(dberr.Corruption, "frame length must include at least the type byte")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, dberr.Wrap(dberr.IOError, err, "read frame body")
	}
	return Frame{Type: MessageType(body[0]), Payload: body[1:]}, nil
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", dberr.Wrap(dberr.Corruption, err, "read string length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", dberr.Wrap(dberr.Corruption, err, "read string body")
	}
	return string(buf), nil
}

// AuthRequestMsg is AUTH_REQUEST's payload.
type AuthRequestMsg struct {
	ProtocolVersion uint16
	Username        string
	Password        string
	Database        string
}

// EncodeAuthRequest serializes an AUTH_REQUEST payload.
func EncodeAuthRequest(m AuthRequestMsg) []byte {
	var buf bytes.Buffer
	var verBuf [2]byte
	binary.BigEndian.PutUint16(verBuf[:], m.ProtocolVersion)
	buf.Write(verBuf[:])
	putString(&buf, m.Username)
	putString(&buf, m.Password)
	putString(&buf, m.Database)
	return buf.Bytes()
}

// DecodeAuthRequest parses an AUTH_REQUEST payload.
func DecodeAuthRequest(payload []byte) (AuthRequestMsg, error) {
	r := bytes.NewReader(payload)
	var verBuf [2]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return AuthRequestMsg{}, dberr.Wrap(dberr.Corruption, err, "read protocol version")
	}
	m := AuthRequestMsg{ProtocolVersion: binary.BigEndian.Uint16(verBuf[:])}
	var err error
	if m.Username, err = getString(r); err != nil {
		return AuthRequestMsg{}, err
	}
	if m.Password, err = getString(r); err != nil {
		return AuthRequestMsg{}, err
	}
	if m.Database, err = getString(r); err != nil {
		return AuthRequestMsg{}, err
	}
	return m, nil
}

// AuthResponseMsg is AUTH_RESPONSE's payload.
type AuthResponseMsg struct {
	Status    uint8
	SessionID uint64
	Message   string
}

// EncodeAuthResponse serializes an AUTH_RESPONSE payload.
func EncodeAuthResponse(m AuthResponseMsg) []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Status)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], m.SessionID)
	buf.Write(idBuf[:])
	putString(&buf, m.Message)
	return buf.Bytes()
}

// DecodeAuthResponse parses an AUTH_RESPONSE payload.
func DecodeAuthResponse(payload []byte) (AuthResponseMsg, error) {
	r := bytes.NewReader(payload)
	status, err := r.ReadByte()
	if err != nil {
		return AuthResponseMsg{}, dberr.Wrap(dberr.Corruption, err, "read auth status")
	}
	var idBuf [8]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return AuthResponseMsg{}, dberr.Wrap(dberr.Corruption, err, "read session id")
	}
	msg, err := getString(r)
	if err != nil {
		return AuthResponseMsg{}, err
	}
	return AuthResponseMsg{Status: status, SessionID: binary.BigEndian.Uint64(idBuf[:]), Message: msg}, nil
}

// QueryRequestMsg is QUERY_REQUEST's payload.
type QueryRequestMsg struct {
	SessionID uint64
	SQL       string
}

// EncodeQueryRequest serializes a QUERY_REQUEST payload.
func EncodeQueryRequest(m QueryRequestMsg) []byte {
	var buf bytes.Buffer
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], m.SessionID)
	buf.Write(idBuf[:])
	putString(&buf, m.SQL)
	return buf.Bytes()
}

// DecodeQueryRequest parses a QUERY_REQUEST payload.
func DecodeQueryRequest(payload []byte) (QueryRequestMsg, error) {
	r := bytes.NewReader(payload)
	var idBuf [8]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return QueryRequestMsg{}, dberr.Wrap(dberr.Corruption, err, "read session id")
	}
	sql, err := getString(r)
	if err != nil {
		return QueryRequestMsg{}, err
	}
	return QueryRequestMsg{SessionID: binary.BigEndian.Uint64(idBuf[:]), SQL: sql}, nil
}

// QueryResponseMsg is QUERY_RESPONSE's payload. Rows/Columns carry
// already-stringified values: the wire format doesn't reproduce
// internal/types.Value's tag, it reproduces the client-facing rendering,
// the same simplification the spec's own byte layout implies by listing
// `columns[]`/`rows[]` as opaque string arrays.
type QueryResponseMsg struct {
	Status          uint8
	ResultType      uint8
	RowsAffected    uint64
	Columns         []string
	Rows            [][]string
	CurrentDatabase string
}

// EncodeQueryResponse serializes a QUERY_RESPONSE payload.
func EncodeQueryResponse(m QueryResponseMsg) []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Status)
	buf.WriteByte(m.ResultType)
	var u64Buf [8]byte
	binary.BigEndian.PutUint64(u64Buf[:], m.RowsAffected)
	buf.Write(u64Buf[:])
	var u32Buf [4]byte
	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(m.Columns)))
	buf.Write(u32Buf[:])
	binary.BigEndian.PutUint32(u32Buf[:], uint32(len(m.Rows)))
	buf.Write(u32Buf[:])
	for _, c := range m.Columns {
		putString(&buf, c)
	}
	for _, row := range m.Rows {
		binary.BigEndian.PutUint32(u32Buf[:], uint32(len(row)))
		buf.Write(u32Buf[:])
		for _, v := range row {
			putString(&buf, v)
		}
	}
	putString(&buf, m.CurrentDatabase)
	return buf.Bytes()
}

// DecodeQueryResponse parses a QUERY_RESPONSE payload.
func DecodeQueryResponse(payload []byte) (QueryResponseMsg, error) {
	r := bytes.NewReader(payload)
	var m QueryResponseMsg
	status, err := r.ReadByte()
	if err != nil {
		return m, dberr.Wrap(dberr.Corruption, err, "read status")
	}
	resultType, err := r.ReadByte()
	if err != nil {
		return m, dberr.Wrap(dberr.Corruption, err, "read result type")
	}
	var u64Buf [8]byte
	if _, err := io.ReadFull(r, u64Buf[:]); err != nil {
		return m, dberr.Wrap(dberr.Corruption, err, "read rows affected")
	}
	m.Status, m.ResultType, m.RowsAffected = status, resultType, binary.BigEndian.Uint64(u64Buf[:])

	readU32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, dberr.Wrap(dberr.Corruption, err, "read count")
		}
		return binary.BigEndian.Uint32(b[:]), nil
	}
	colCount, err := readU32()
	if err != nil {
		return m, err
	}
	rowCount, err := readU32()
	if err != nil {
		return m, err
	}
	m.Columns = make([]string, colCount)
	for i := range m.Columns {
		if m.Columns[i], err = getString(r); err != nil {
			return m, err
		}
	}
	m.Rows = make([][]string, rowCount)
	for i := range m.Rows {
		cellCount, err := readU32()
		if err != nil {
			return m, err
		}
		row := make([]string, cellCount)
		for j := range row {
			if row[j], err = getString(r); err != nil {
				return m, err
			}
		}
		m.Rows[i] = row
	}
	if m.CurrentDatabase, err = getString(r); err != nil {
		return m, err
	}
	return m, nil
}

// ErrorResponseMsg is ERROR_RESPONSE's payload.
type ErrorResponseMsg struct {
	Code    uint32
	Message string
	Detail  string
}

// EncodeErrorResponse serializes an ERROR_RESPONSE payload.
func EncodeErrorResponse(m ErrorResponseMsg) []byte {
	var buf bytes.Buffer
	var codeBuf [4]byte
	binary.BigEndian.PutUint32(codeBuf[:], m.Code)
	buf.Write(codeBuf[:])
	putString(&buf, m.Message)
	putString(&buf, m.Detail)
	return buf.Bytes()
}

// DecodeErrorResponse parses an ERROR_RESPONSE payload.
func DecodeErrorResponse(payload []byte) (ErrorResponseMsg, error) {
	r := bytes.NewReader(payload)
	var codeBuf [4]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return ErrorResponseMsg{}, dberr.Wrap(dberr.Corruption, err, "read error code")
	}
	m := ErrorResponseMsg{Code: binary.BigEndian.Uint32(codeBuf[:])}
	var err error
	if m.Message, err = getString(r); err != nil {
		return ErrorResponseMsg{}, err
	}
	if m.Detail, err = getString(r); err != nil {
		return ErrorResponseMsg{}, err
	}
	return m, nil
}
