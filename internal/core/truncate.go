package core

import "unicode/utf8"

// multiByteMargin is reserved when a value contains non-ASCII characters,
// absorbing width differences between the detected and stored encodings.
const multiByteMargin = 2

// TruncateToBytes cuts s to at most budget bytes without splitting a
// multi-byte character. Strings already within budget are returned as is.
func TruncateToBytes(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(s) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateToRunes cuts s to at most n characters. n <= 0 means unbounded.
func TruncateToRunes(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

// SafeTruncate fits s into a column of the given byte capacity. Values whose
// byte length meets or exceeds the capacity are cut, with a small margin
// when they carry accented characters. capacity <= 0 means unbounded.
func SafeTruncate(s string, capacity int) (string, bool) {
	if capacity <= 0 || len(s) < capacity {
		return s, false
	}

	budget := capacity
	if !isASCII(s) {
		budget -= multiByteMargin
	}
	out := TruncateToBytes(s, budget)
	return out, out != s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
