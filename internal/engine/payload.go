package engine

import (
	"encoding/json"
	"strings"
)

// Payload is the closed variant type for the engine's content union. The
// wire shape is one of: a bare JSON string, a single text block, or an array
// of content blocks. All three collapse to extracted text here so the rest
// of the system consumes exactly one shape.
type Payload struct {
	Text string
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts string | block | []block.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Text = s
		return nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		p.Text = joinTextBlocks(blocks)
		return nil
	}

	var block contentBlock
	if err := json.Unmarshal(data, &block); err == nil {
		p.Text = block.Text
		return nil
	}

	// Unknown shapes degrade to empty text rather than failing the event.
	p.Text = ""
	return nil
}

// joinTextBlocks concatenates the text-typed blocks, newline separated.
// Non-text blocks (images, engine-internal markers) are skipped.
func joinTextBlocks(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "" || b.Type == "text" {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
