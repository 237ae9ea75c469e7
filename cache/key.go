package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Key identifies a synthesized utterance.
type Key struct {
	Speaker string
	Speed   float64
	Text    string
}

// Fingerprint is a stable hash of the key, used for Redis keys.
func (k Key) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(k.Speaker))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(k.Speed, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(k.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// Utterance is one of the fixed phrases the bot speaks on its own.
type Utterance int

const (
	UtteranceConnected Utterance = iota
	UtteranceDisconnected
	UtteranceURL
)

var utterances = []struct {
	name string
	text string
}{
	UtteranceConnected:    {"connected", "接続しました。"},
	UtteranceDisconnected: {"disconnected", "切断しました。"},
	UtteranceURL:          {"url", "URL省略"},
}

// Utterances lists every predefined phrase.
func Utterances() []Utterance {
	out := make([]Utterance, len(utterances))
	for i := range utterances {
		out[i] = Utterance(i)
	}
	return out
}

func (u Utterance) valid() bool { return u >= 0 && int(u) < len(utterances) }

func (u Utterance) String() string {
	if !u.valid() {
		return "unknown"
	}
	return utterances[u].name
}

// Text is what gets synthesized for u.
func (u Utterance) Text() string {
	if !u.valid() {
		return ""
	}
	return utterances[u].text
}
