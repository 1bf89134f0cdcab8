// Package wire defines the JSON messages exchanged with an up4w peer.
package wire

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// PushTopic is the rsp value of unsolicited message notifications.
const PushTopic = "msg.received"

// Request is a call sent to the peer.
type Request struct {
	Req string `json:"req"`
	Arg any    `json:"arg,omitempty"`
	Inc string `json:"inc,omitempty"`
}

// Response is a frame received from the peer. Fin is nil when the peer
// omitted it, which completes the exchange like an explicit true.
type Response struct {
	Rsp string          `json:"rsp,omitempty"`
	Ret json.RawMessage `json:"ret,omitempty"`
	Inc string          `json:"inc,omitempty"`
	Fin *bool           `json:"fin,omitempty"`
	Err any             `json:"err,omitempty"`
}

// NewInc returns a fresh invocation id.
func NewInc() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Final reports whether the frame completes its exchange.
func (r *Response) Final() bool {
	return r.Fin == nil || *r.Fin
}

// Failed reports whether the peer set a non-empty err field.
func (r *Response) Failed() bool {
	switch v := r.Err.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case float64:
		return v != 0
	case bool:
		return v
	default:
		return true
	}
}

// HasRet reports whether the frame carries a non-null ret payload.
func (r *Response) HasRet() bool {
	ret := bytes.TrimSpace(r.Ret)
	return len(ret) > 0 && !bytes.Equal(ret, []byte("null"))
}

// Decode unmarshals the ret payload into v.
func (r *Response) Decode(v any) error {
	if !r.HasRet() {
		return nil
	}
	return json.Unmarshal(r.Ret, v)
}

// MessageID returns ret.id when ret is an object with a string or numeric id.
func (r *Response) MessageID() string {
	if !r.HasRet() || bytes.TrimSpace(r.Ret)[0] != '{' {
		return ""
	}
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(r.Ret, &head); err != nil || len(head.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(head.ID, &s); err == nil {
		return s
	}
	if bytes.Equal(head.ID, []byte("null")) {
		return ""
	}
	return string(head.ID)
}

// Bool returns a pointer to b, for building Fin values.
func Bool(b bool) *bool { return &b }
