// Copyright 2025 James Ross
// Package frame defines the wire unit of the WebSocket protocol. The
// transport and full frame codec live outside this module's scope (§1); this
// package specifies only the contract the admission pipeline depends on:
// parsing, fragment-group invariants, and canonical round-trip encoding.
package frame

import (
	"encoding/json"
	"fmt"
)

// Flag is one bit of the fragment-group state machine.
type Flag string

const (
	FlagSYN  Flag = "SYN"
	FlagMORE Flag = "MORE"
	FlagECN  Flag = "ECN"
	FlagFIN  Flag = "FIN"
)

// QoS is the advisory class carried per-frame; it influences queue priority
// only in extensions, not in the core scheduler (§GLOSSARY).
type QoS string

const (
	QoSGold   QoS = "gold"
	QoSSilver QoS = "silver"
	QoSBronze QoS = "bronze"
)

// Frame is the canonical §3 data model.
type Frame struct {
	V         int               `json:"v"`
	SessionID string            `json:"session_id"`
	StreamID  string            `json:"stream_id"`
	MsgSeq    uint64            `json:"msg_seq"`
	FragSeq   uint64            `json:"frag_seq"`
	Flags     []Flag            `json:"flags,omitempty"`
	QoS       QoS               `json:"qos,omitempty"`
	TTL       int               `json:"ttl,omitempty"`
	Window    int               `json:"window,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

func (f *Frame) hasFlag(flag Flag) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// IsSYN reports whether this fragment initiates admission; only the SYN
// fragment of a group does.
func (f *Frame) IsSYN() bool { return f.hasFlag(FlagSYN) }

// IsMore reports whether more fragments follow in this group.
func (f *Frame) IsMore() bool { return f.hasFlag(FlagMORE) }

// IsFin reports whether this fragment ends the stream.
func (f *Frame) IsFin() bool { return f.hasFlag(FlagFIN) }

// Group accumulates fragments belonging to one (session, stream, msg_seq)
// and enforces the contiguity/MORE invariants of §3.
type Group struct {
	frames []*Frame
	next   uint64
	closed bool
}

// Append validates and appends the next fragment of the group.
//
// Invariants enforced: frag_seq is contiguous from 0; every fragment except
// the last carries MORE; only the first frame may carry SYN.
func (g *Group) Append(f *Frame) error {
	if g.closed {
		return fmt.Errorf("frame: fragment appended after group closed")
	}
	if f.FragSeq != g.next {
		return fmt.Errorf("frame: expected frag_seq %d, got %d: %w", g.next, f.FragSeq, ErrSequenceGap)
	}
	if g.next > 0 && f.IsSYN() {
		return fmt.Errorf("frame: SYN must only appear on the first fragment")
	}
	if !f.IsMore() {
		g.closed = true
	}
	g.frames = append(g.frames, f)
	g.next++
	return nil
}

// Complete reports whether the group has received its terminal (non-MORE)
// fragment.
func (g *Group) Complete() bool { return g.closed }

// Frames returns the accumulated fragments in order.
func (g *Group) Frames() []*Frame { return g.frames }

// ErrSequenceGap is returned by Group.Append on a non-contiguous frag_seq;
// it maps to routererr.KindSeqRetry at the call site.
var ErrSequenceGap = fmt.Errorf("fragment sequence gap")

// Encode produces the canonical JSON encoding of a frame.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses the canonical JSON encoding of a frame.
func Decode(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
