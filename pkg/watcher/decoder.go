package watcher

import (
	"bytes"
	"strings"
)

// LineDecoder turns raw byte chunks read from the tracked file into complete
// text lines. A trailing segment without its terminator is carried forward so
// a line split across two reads reassembles into exactly one line. The carry
// is owned by the tail loop between calls; the decoder itself holds no state.
type LineDecoder struct{}

// Decode splits chunk on '\n'. The final unterminated segment (prefixed with
// carry) becomes the new carry instead of a line. Invalid UTF-8 (the node
// may be mid-write at the moment of read) is replaced with U+FFFD rather
// than failing the chunk. Empty lines are skipped.
func (LineDecoder) Decode(chunk, carry []byte) (lines []string, newCarry []byte) {
	if len(chunk) == 0 {
		return nil, carry
	}

	data := chunk
	if len(carry) > 0 {
		data = make([]byte, 0, len(carry)+len(chunk))
		data = append(data, carry...)
		data = append(data, chunk...)
	}

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		if line := decodeLine(data[:idx]); line != "" {
			lines = append(lines, line)
		}
		data = data[idx+1:]
	}

	if len(data) > 0 {
		newCarry = append([]byte(nil), data...)
	}
	return lines, newCarry
}

// Flush converts a pending carry into its final line, used when the tracked
// file rotates away while a fragment is still outstanding.
func (LineDecoder) Flush(carry []byte) (string, bool) {
	line := decodeLine(carry)
	return line, line != ""
}

func decodeLine(b []byte) string {
	b = bytes.TrimRight(b, "\r")
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}
