// Package wire implements the on-the-wire codec for paxos messages
// using encoding/gob, the standard library's self-describing binary
// format, registering every message kind up front the way gob requires
// for interface values.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/erewok/multifaustus/paxos"
)

func init() {
	gob.Register(paxos.P1a{})
	gob.Register(paxos.P1b{})
	gob.Register(paxos.P2a{})
	gob.Register(paxos.P2b{})
	gob.Register(paxos.Preempted{})
	gob.Register(paxos.DecisionMsg{})
	gob.Register(paxos.Request{})
	gob.Register(paxos.Propose{})
	gob.Register(paxos.Response{})
}

// envelope is the gob-serializable shadow of paxos.Envelope: Envelope's
// Message field is an interface, so gob needs the registered concrete
// types above to round-trip it.
type envelope struct {
	Dest    paxos.NodeId
	Message paxos.Message
}

// EncodeEnvelope serializes one Envelope for transmission.
func EncodeEnvelope(e paxos.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Dest: e.Dest, Message: e.Message}); err != nil {
		return nil, fmt.Errorf("wire: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope deserializes bytes produced by EncodeEnvelope. Identity
// with the original Envelope is the round-trip law every message kind
// must satisfy.
func DecodeEnvelope(data []byte) (paxos.Envelope, error) {
	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return paxos.Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return paxos.Envelope{Dest: e.Dest, Message: e.Message}, nil
}
