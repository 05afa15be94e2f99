package payload

import (
	"net/url"
	"strings"
)

// QueryEscape leaves '~' alone and escapes '*', and writes spaces as '+'.
// A literal '+' is always escaped, so every '+' left in its output is a space.
var formEncodingFixups = strings.NewReplacer("+", "%20", "%2A", "*", "~", "%7E")

var illegalURLChars = strings.NewReplacer(" ", "%20", "|", "%7C")

// URLEncode percent-encodes text with form rules, except that a space becomes
// "%20". Letters, digits and ".-*_" pass through unchanged.
func URLEncode(text string) string {
	return formEncodingFixups.Replace(url.QueryEscape(text))
}

// URLDecode reverses URLEncode and also turns '+' into a space. Malformed
// escapes return text unchanged.
func URLDecode(text string) string {
	out, err := url.QueryUnescape(text)
	if err != nil {
		return text
	}
	return toValidUTF8([]byte(out))
}

// FixIllegalURL escapes the two characters that commonly break share links:
// space and '|'.
func FixIllegalURL(text string) string {
	return illegalURLChars.Replace(text)
}
