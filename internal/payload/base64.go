// Package payload decodes and encodes subscription bodies and link fragments.
// Every function is total: bad input yields "" or the input itself, never an
// error.
package payload

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

type decodeStrategy struct {
	enc      *base64.Encoding
	trimPads bool
}

// Tried in order, first success wins.
var decodeStrategies = []decodeStrategy{
	{enc: base64.StdEncoding},
	{enc: base64.URLEncoding},
	{enc: base64.StdEncoding, trimPads: true},
	{enc: base64.URLEncoding, trimPads: true},
}

var whitespace = strings.NewReplacer("\r", "", "\n", "", "\t", "", " ", "")

// DecodeBase64Best decodes text with the standard and URL-safe alphabets,
// padded or not, and returns the result as UTF-8. Invalid UTF-8 sequences are
// replaced with U+FFFD. It returns "" for empty input or when every alphabet
// fails.
func DecodeBase64Best(text string) string {
	if text == "" {
		return ""
	}
	compact := whitespace.Replace(text)
	for _, s := range decodeStrategies {
		if out, ok := s.decode(compact); ok {
			return toValidUTF8(out)
		}
	}
	return ""
}

func (s decodeStrategy) decode(text string) ([]byte, bool) {
	if s.trimPads {
		text = strings.TrimRight(text, "=")
	}
	if text == "" {
		return nil, false
	}
	enc := s.enc
	if len(text)%4 != 0 && !strings.HasSuffix(text, "=") {
		enc = enc.WithPadding(base64.NoPadding)
	}
	out, err := enc.DecodeString(text)
	if err != nil {
		return nil, false
	}
	return out, true
}

// EncodeBase64 returns the standard base64 form of text on a single line.
func EncodeBase64(text string, removePadding bool) string {
	if removePadding {
		return base64.RawStdEncoding.EncodeToString([]byte(text))
	}
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// toValidUTF8 replaces each maximal ill-formed subsequence with one U+FFFD,
// so a truncated multibyte sequence yields a single replacement character.
func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
			size = illFormedLen(b)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

// illFormedLen returns the length of the maximal prefix of b that starts a
// well-formed sequence without completing it. b must not start with a valid rune.
func illFormedLen(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var n int
	switch lead := b[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		n = 2
	case lead == 0xE0:
		n, lo = 3, 0xA0
	case lead == 0xED:
		n, hi = 3, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		n = 3
	case lead == 0xF0:
		n, lo = 4, 0x90
	case lead == 0xF4:
		n, hi = 4, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		n = 4
	default:
		return 1
	}

	i := 1
	for ; i < n && i < len(b); i++ {
		c := b[i]
		if i > 1 {
			lo, hi = 0x80, 0xBF
		}
		if c < lo || c > hi {
			break
		}
	}
	return i
}
