package chunker

import "strings"

// DefaultMaxChars is the nominal chunk size limit in characters.
const DefaultMaxChars = 500

// Chunk is a unit of document text extracted for embedding. Lines are
// 1-indexed and inclusive.
type Chunk struct {
	Text      string
	StartLine int
	EndLine   int
}

// Chunker splits document text into chunks at structural boundaries:
// markdown headers first, then paragraph breaks. Fenced code blocks are kept
// intact unless the block alone exceeds the size limit. Chunking is
// deterministic — identical text always yields identical boundaries, which
// the content-hash dedup depends on.
type Chunker struct {
	maxChars int
}

// New creates a chunker with the given size limit. Non-positive limits fall
// back to DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{maxChars: maxChars}
}

// segment is an indivisible run of lines: a paragraph, a header line, or a
// whole fenced code block.
type segment struct {
	text      string
	startLine int
	endLine   int
	fence     bool
}

// Chunk splits text into chunks. Sections begin at markdown headers; within
// a section, paragraphs are packed greedily up to the size limit. An
// oversized paragraph is emitted whole rather than cut mid-sentence.
func (c *Chunker) Chunk(text string) []Chunk {
	segs := split(text)

	var chunks []Chunk
	var cur []segment
	curLen := 0

	flush := func() {
		if ch, ok := join(cur); ok {
			chunks = append(chunks, ch)
		}
		cur = nil
		curLen = 0
	}

	for _, seg := range segs {
		if isHeader(seg.text) && curLen > 0 {
			flush()
		}
		segLen := len(seg.text)
		if curLen > 0 && curLen+segLen+2 > c.maxChars {
			flush()
		}
		if segLen > c.maxChars && seg.fence {
			// A fence larger than the limit is the one case where we split
			// inside it, at the size limit.
			flush()
			for _, piece := range splitFence(seg, c.maxChars) {
				if ch, ok := join([]segment{piece}); ok {
					chunks = append(chunks, ch)
				}
			}
			continue
		}
		cur = append(cur, seg)
		curLen += segLen + 2
	}
	flush()

	return chunks
}

// split breaks text into segments: header lines, fenced code blocks, and
// blank-line-separated paragraphs.
func split(text string) []segment {
	lines := strings.Split(text, "\n")

	var segs []segment
	var buf []string
	bufStart := 0

	flush := func(end int) {
		joined := strings.TrimSpace(strings.Join(buf, "\n"))
		if joined != "" {
			segs = append(segs, segment{text: joined, startLine: bufStart + 1, endLine: end})
		}
		buf = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush(i)
		case strings.HasPrefix(trimmed, "```"):
			flush(i)
			// Collect the fence through its closing marker (or EOF).
			start := i
			fence := []string{line}
			for i+1 < len(lines) {
				i++
				fence = append(fence, lines[i])
				if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
					break
				}
			}
			segs = append(segs, segment{
				text:      strings.Join(fence, "\n"),
				startLine: start + 1,
				endLine:   i + 1,
				fence:     true,
			})
		case isHeader(trimmed):
			flush(i)
			buf = []string{line}
			bufStart = i
		default:
			if len(buf) == 0 {
				bufStart = i
			}
			buf = append(buf, line)
		}
	}
	flush(len(lines))

	return segs
}

// splitFence cuts an oversized fenced block into line-aligned pieces of at
// most maxChars. A single line longer than the limit is emitted whole.
func splitFence(seg segment, maxChars int) []segment {
	lines := strings.Split(seg.text, "\n")

	var pieces []segment
	var buf []string
	bufStart := seg.startLine
	bufLen := 0

	for i, line := range lines {
		if bufLen > 0 && bufLen+len(line)+1 > maxChars {
			pieces = append(pieces, segment{
				text:      strings.Join(buf, "\n"),
				startLine: bufStart,
				endLine:   seg.startLine + i - 1,
				fence:     true,
			})
			buf = nil
			bufLen = 0
			bufStart = seg.startLine + i
		}
		buf = append(buf, line)
		bufLen += len(line) + 1
	}
	if len(buf) > 0 {
		pieces = append(pieces, segment{
			text:      strings.Join(buf, "\n"),
			startLine: bufStart,
			endLine:   seg.endLine,
			fence:     true,
		})
	}
	return pieces
}

// join merges accumulated segments into a single chunk.
func join(segs []segment) (Chunk, bool) {
	if len(segs) == 0 {
		return Chunk{}, false
	}
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.text
	}
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return Chunk{}, false
	}
	return Chunk{
		Text:      text,
		StartLine: segs[0].startLine,
		EndLine:   segs[len(segs)-1].endLine,
	}, true
}

// isHeader reports whether a line is a markdown header of level 1–3.
func isHeader(line string) bool {
	for _, prefix := range []string{"# ", "## ", "### "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
