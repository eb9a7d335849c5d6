// Package format holds the string-shaping helpers shared by the router,
// channels and command handlers: LoRa-sized chunking, truncation and node
// id rendering.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// LoRaMaxLen is the usable payload length for a single LoRa text frame.
const LoRaMaxLen = 180

// Truncate shortens s to at most n runes, appending an ellipsis when it cut
// anything.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// ChunkLoRa splits text into frames that fit a LoRa payload, preferring
// line and word boundaries. Multi-chunk output gets "(i/n)" markers so
// recipients can reassemble order.
func ChunkLoRa(text string) []string {
	return Chunk(text, LoRaMaxLen)
}

// Chunk splits text into pieces of at most limit runes.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	// Markers cost up to 8 runes ("(nn/nn) ").
	body := limit - 8
	if body < 16 {
		body = limit
	}

	var chunks []string
	remaining := text
	for remaining != "" {
		runes := []rune(remaining)
		if len(runes) <= body {
			chunks = append(chunks, remaining)
			break
		}
		cut := body
		// Prefer breaking at the last newline or space inside the window.
		window := string(runes[:body])
		if idx := strings.LastIndexByte(window, '\n'); idx > body/2 {
			cut = utf8.RuneCountInString(window[:idx])
		} else if idx := strings.LastIndexByte(window, ' '); idx > body/2 {
			cut = utf8.RuneCountInString(window[:idx])
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		remaining = strings.TrimSpace(string(runes[cut:]))
	}

	if len(chunks) > 1 {
		for i := range chunks {
			chunks[i] = fmt.Sprintf("(%d/%d) %s", i+1, len(chunks), chunks[i])
		}
	}
	return chunks
}

// NodeID renders a numeric node identity in the canonical "!%08x" form.
func NodeID(num uint32) string {
	if num == 0 {
		return "unknown"
	}
	return fmt.Sprintf("!%08x", num)
}
