package server

import (
	"encoding/json"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// offsetInText converts a protocol position to a byte offset in text,
// clamped to the text length.
func offsetInText(text string, pos protocol.Position) int {
	lineStart := 0
	for line := uint32(0); line < pos.Line; line++ {
		nl := strings.IndexByte(text[lineStart:], '\n')
		if nl < 0 {
			return len(text)
		}
		lineStart += nl + 1
	}
	off := lineStart + int(pos.Character)
	if off > len(text) {
		off = len(text)
	}
	return off
}

// settingsJSON re-encodes a decoded settings payload so koanf can
// parse it.
func settingsJSON(settings any) ([]byte, error) {
	if settings == nil {
		return nil, nil
	}
	return json.Marshal(settings)
}

func rangeContains(r protocol.Range, pos protocol.Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character > r.End.Character {
		return false
	}
	return true
}
