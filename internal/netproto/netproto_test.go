package netproto

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeAuthRequest(AuthRequestMsg{ProtocolVersion: 1, Username: "admin", Password: "hunter2", Database: "qindb"})
	if err := WriteFrame(&buf, AuthRequest, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != AuthRequest {
		t.Fatalf("expected AuthRequest, got %v", frame.Type)
	}
	got, err := DecodeAuthRequest(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeAuthRequest: %v", err)
	}
	if got.Username != "admin" || got.Database != "qindb" || got.ProtocolVersion != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestQueryResponseRoundTrip(t *testing.T) {
	msg := QueryResponseMsg{
		Status:          0,
		ResultType:      1,
		RowsAffected:    2,
		Columns:         []string{"id", "name"},
		Rows:            [][]string{{"1", "alice"}, {"2", "bob"}},
		CurrentDatabase: "shop",
	}
	payload := EncodeQueryResponse(msg)
	got, err := DecodeQueryResponse(payload)
	if err != nil {
		t.Fatalf("DecodeQueryResponse: %v", err)
	}
	if len(got.Rows) != 2 || got.Rows[1][1] != "bob" || got.CurrentDatabase != "shop" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	payload := EncodeErrorResponse(ErrorResponseMsg{Code: 42, Message: "boom", Detail: "table t"})
	got, err := DecodeErrorResponse(payload)
	if err != nil {
		t.Fatalf("DecodeErrorResponse: %v", err)
	}
	if got.Code != 42 || got.Message != "boom" || got.Detail != "table t" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatalf("expected zero-length frame to be rejected")
	}
}
