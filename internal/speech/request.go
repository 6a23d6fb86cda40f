package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Request describes one text-to-speech synthesis request as submitted by the
// chat/lesson backend. Two requests that normalize to the same text, voice
// and parameters are the same piece of audio and share one content hash.
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
	Style string  `json:"style,omitempty"`
	Lane  Lane    `json:"lane,omitempty"`
}

// Normalized returns a copy with the text trimmed, whitespace collapsed and
// lower-cased, and defaults applied, so that equivalent submissions hash
// identically.
func (r Request) Normalized() Request {
	out := r
	out.Text = strings.ToLower(strings.Join(strings.Fields(r.Text), " "))
	out.Voice = strings.ToLower(strings.TrimSpace(r.Voice))
	out.Style = strings.ToLower(strings.TrimSpace(r.Style))
	if out.Speed == 0 {
		out.Speed = 1.0
	}
	if out.Lane == "" {
		out.Lane = LaneStandard
	}
	return out
}

// ContentHash derives the deterministic cache/job key. Fields are serialized
// in a fixed order with an unambiguous separator; the lane is deliberately
// excluded because priority does not change the produced audio.
func (r Request) ContentHash() string {
	n := r.Normalized()
	h := sha256.New()
	for _, field := range []string{
		n.Text,
		n.Voice,
		strconv.FormatFloat(n.Speed, 'f', -1, 64),
		n.Style,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
