// Package stream provides incremental parsing of model output streams.
//
// Information Hiding:
// - Tag-family definitions and partial-match buffering hidden behind Parser
// - Provider streaming envelopes (SSE framing, delta shapes) hidden behind Decoder
// - Callers see plain visible text plus completed side-channel blocks

package stream

import (
	"strings"
)

// BlockType classifies an extracted side-channel block.
type BlockType string

const (
	// BlockThinking covers <thinking> and <thought> spans.
	BlockThinking BlockType = "thinking"
	// BlockReasoning covers <reasoning> and <reflection> spans.
	BlockReasoning BlockType = "reasoning"
)

// Block is a completed tagged span extracted from raw model output.
// Content is the inner text with surrounding whitespace trimmed.
type Block struct {
	Type    BlockType
	Content string
}

// tagFamily groups the tag spellings that map to one block type.
type tagFamily struct {
	blockType BlockType
	names     []string
}

// Families are scanned in order; within the buffer the earliest complete
// start tag wins regardless of family (first match, no nesting support).
var tagFamilies = []tagFamily{
	{BlockThinking, []string{"thinking", "thought"}},
	{BlockReasoning, []string{"reasoning", "reflection"}},
}

// Parser incrementally extracts tagged blocks from a chunked text stream.
// It keeps exactly one piece of state: a carry buffer of text that cannot
// be classified yet (an open tag, or a possible tag prefix at the chunk
// boundary). Use one Parser per logical stream; not safe for concurrent use.
type Parser struct {
	carry string
}

// NewParser creates a parser with empty state.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends rawChunk to the carry buffer and extracts whatever can be
// classified. It returns the visible content produced by this call and the
// blocks completed by this call. Text belonging to an unterminated tag is
// withheld and re-examined on the next call, so no partial tag ever leaks
// into visible output.
func (p *Parser) Feed(rawChunk string) (string, []Block) {
	buf := p.carry + rawChunk
	p.carry = ""

	var visible strings.Builder
	var blocks []Block

	for {
		start, ok := findStartTag(buf)
		if !ok {
			// No complete start tag. A '<' near the end may still be the
			// beginning of one split across chunks; hold it back.
			hold := holdPoint(buf)
			visible.WriteString(buf[:hold])
			p.carry = buf[hold:]
			return visible.String(), blocks
		}

		end, ok := findEndTag(buf, start)
		if !ok {
			// Open tag with no close yet: everything from the start tag on
			// is withheld until more data arrives.
			visible.WriteString(buf[:start.begin])
			p.carry = buf[start.begin:]
			return visible.String(), blocks
		}

		inner := buf[start.end:end.begin]
		blocks = append(blocks, Block{
			Type:    start.family.blockType,
			Content: strings.TrimSpace(inner),
		})
		visible.WriteString(buf[:start.begin])
		buf = buf[end.end:]
	}
}

// Flush returns whatever text is still buffered, verbatim (tags included),
// and clears it. Call once the stream is known to be finished so orphaned
// partial tags surface as ordinary content instead of being lost.
func (p *Parser) Flush() string {
	out := p.carry
	p.carry = ""
	return out
}

// Reset clears all parser state. Required before reusing a Parser for an
// unrelated stream.
func (p *Parser) Reset() {
	p.carry = ""
}

// ParseComplete runs the full extraction over an already-complete response:
// equivalent to feeding the entire text once and flushing.
func ParseComplete(text string) (string, []Block) {
	p := NewParser()
	content, blocks := p.Feed(text)
	return content + p.Flush(), blocks
}

// tagMatch locates one matched tag: buf[begin:end] spans the whole tag
// including angle brackets.
type tagMatch struct {
	begin  int
	end    int
	family tagFamily
}

// findStartTag scans left-to-right for the earliest complete start tag of
// any family. Matching is case-insensitive and tolerates attributes between
// the tag name and '>'.
func findStartTag(buf string) (tagMatch, bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '<' {
			continue
		}
		for _, fam := range tagFamilies {
			for _, name := range fam.names {
				end, ok := matchStartTagAt(buf, i, name)
				if ok {
					return tagMatch{begin: i, end: end, family: fam}, true
				}
			}
		}
	}
	return tagMatch{}, false
}

// matchStartTagAt reports whether buf[at:] begins a complete start tag for
// name, returning the index just past the closing '>'.
func matchStartTagAt(buf string, at int, name string) (int, bool) {
	rest := buf[at+1:]
	if len(rest) < len(name) || !strings.EqualFold(rest[:len(name)], name) {
		return 0, false
	}
	rest = rest[len(name):]
	if rest == "" {
		return 0, false
	}
	switch {
	case rest[0] == '>':
		return at + 1 + len(name) + 1, true
	case rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r':
		// Attributes: accept anything up to the next '>'.
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			return 0, false
		}
		return at + 1 + len(name) + gt + 1, true
	default:
		// Longer identifier, e.g. "<thinkingly" is not a thinking tag.
		return 0, false
	}
}

// findEndTag searches from just past the start tag for the matching end tag
// of the same family (any spelling), returning the earliest occurrence.
func findEndTag(buf string, start tagMatch) (tagMatch, bool) {
	best := tagMatch{begin: -1}
	for _, name := range start.family.names {
		closing := "</" + name + ">"
		idx := indexFold(buf[start.end:], closing)
		if idx < 0 {
			continue
		}
		begin := start.end + idx
		if best.begin < 0 || begin < best.begin {
			best = tagMatch{begin: begin, end: begin + len(closing), family: start.family}
		}
	}
	if best.begin < 0 {
		return tagMatch{}, false
	}
	return best, true
}

// indexFold is strings.Index with ASCII case folding, which is all the tag
// vocabulary needs.
func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

// holdPoint returns the index from which buf must be withheld because its
// tail could be the prefix of a start tag split across chunk boundaries.
// Everything before the returned index is safe to emit.
func holdPoint(buf string) int {
	for i := 0; i < len(buf); i++ {
		if buf[i] == '<' && couldBeStartTagPrefix(buf[i:]) {
			return i
		}
	}
	return len(buf)
}

// couldBeStartTagPrefix reports whether s (starting with '<') could still
// grow into a start tag of some family once more bytes arrive.
func couldBeStartTagPrefix(s string) bool {
	rest := s[1:]
	for _, fam := range tagFamilies {
		for _, name := range fam.names {
			if len(rest) < len(name) {
				if strings.EqualFold(rest, name[:len(rest)]) {
					return true
				}
				continue
			}
			if !strings.EqualFold(rest[:len(name)], name) {
				continue
			}
			after := rest[len(name):]
			if after == "" {
				return true
			}
			// Attribute section with no '>' yet: still open.
			if after[0] == ' ' || after[0] == '\t' || after[0] == '\n' || after[0] == '\r' {
				if !strings.Contains(after, ">") {
					return true
				}
			}
		}
	}
	return false
}
