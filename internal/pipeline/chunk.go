package pipeline

import (
	"unicode/utf8"
)

// SplitUTF8 splits s into chunks of at most maxBytes bytes, never
// breaking inside a multi-byte code point. Concatenating the chunks in
// order reconstructs s exactly. maxBytes must be at least
// utf8.UTFMax for forward progress on arbitrary text.
func SplitUTF8(s string, maxBytes int) [][]byte {
	if s == "" {
		return nil
	}
	if maxBytes < utf8.UTFMax {
		maxBytes = utf8.UTFMax
	}

	var out [][]byte
	start := 0
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size-start > maxBytes {
			out = append(out, []byte(s[start:end]))
			start = end
		}
		end += size
	}
	out = append(out, []byte(s[start:]))
	return out
}
