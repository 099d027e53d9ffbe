// Package chunker splits documents into overlapping text chunks using one of
// three strategies: fixed-size windows, sentence packing, or paragraph
// packing.
package chunker

import (
	"regexp"
	"strings"

	"github.com/quillframe/ragcore/internal/rag"
)

// Chunker splits a document according to a configured strategy.
type Chunker struct {
	strategy rag.ChunkingStrategy
	size     int
	overlap  int
}

// New creates a chunker. Invalid sizes fall back to defaults; an overlap
// equal to or larger than the size degrades to a step of one.
func New(strategy rag.ChunkingStrategy, size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	if !strategy.Valid() {
		strategy = rag.ChunkFixedSize
	}
	return &Chunker{strategy: strategy, size: size, overlap: overlap}
}

// span is a half-open [start, end) range into the source content, with the
// pre-rendered chunk text (sentence/paragraph chunks re-join their pieces).
type span struct {
	start, end int
	text       string
}

// Chunk splits the document's content into an ordered list of chunks.
// Empty content yields no chunks.
func (c *Chunker) Chunk(doc rag.Document) []rag.Chunk {
	if doc.Content == "" {
		return nil
	}

	var spans []span
	switch c.strategy {
	case rag.ChunkSentence:
		spans = c.sentenceSpans(doc.Content)
	case rag.ChunkParagraph:
		spans = c.paragraphSpans(doc.Content)
	default:
		spans = c.fixedSpans(doc.Content)
	}

	n := len(doc.Content)
	chunks := make([]rag.Chunk, 0, len(spans))
	for i, s := range spans {
		start, end := clamp(s.start, 0, n), clamp(s.end, 0, n)
		chunks = append(chunks, rag.Chunk{
			ID:           rag.ChunkID(doc.ID, i),
			DocumentID:   doc.ID,
			DocumentName: doc.FileName,
			Content:      s.text,
			StartIndex:   start,
			EndIndex:     end,
			ChunkIndex:   i,
		})
	}
	return chunks
}

// fixedSpans emits windows of c.size characters advancing by size-overlap.
// A trailing window shorter than size/4 is dropped unless it is the only one.
func (c *Chunker) fixedSpans(content string) []span {
	n := len(content)
	step := c.size - c.overlap
	if step < 1 {
		step = 1
	}

	var out []span
	for i := 0; i < n; i += step {
		end := i + c.size
		if end > n {
			end = n
		}
		out = append(out, span{start: i, end: end, text: content[i:end]})
		if end == n {
			break
		}
	}

	if len(out) > 1 {
		last := out[len(out)-1]
		if last.end-last.start < c.size/4 {
			out = out[:len(out)-1]
		}
	}
	return out
}

// piece is a sentence or paragraph with its position in the source.
type piece struct {
	text  string
	start int
}

// sentenceSpans packs whole sentences into chunks of about c.size
// characters, seeding each chunk with roughly c.overlap characters of
// trailing sentences from the previous one.
func (c *Chunker) sentenceSpans(content string) []span {
	return c.packPieces(splitSentences(content), " ")
}

var paragraphDelim = regexp.MustCompile(`\n\s*\n`)

// paragraphSpans packs paragraphs like sentenceSpans but joins with blank
// lines. A single paragraph larger than twice the target is flushed and
// re-chunked with fixed windows so ordering is preserved.
func (c *Chunker) paragraphSpans(content string) []span {
	paras := splitParagraphs(content)

	var out []span
	var cur []piece

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, joinedSpan(cur, "\n\n"))
		cur = nil
	}

	for _, p := range paras {
		if len(p.text) > 2*c.size {
			flush()
			for _, s := range c.fixedSpans(p.text) {
				out = append(out, span{start: p.start + s.start, end: p.start + s.end, text: s.text})
			}
			continue
		}
		if len(cur) > 0 && joinedLen(cur, 2)+2+len(p.text) > c.size {
			seed := overlapSeed(cur, c.overlap)
			flush()
			cur = append(cur, seed...)
		}
		cur = append(cur, p)
	}
	flush()
	return out
}

// joinedLen is the length of pieces joined by a sepLen-character separator.
func joinedLen(pieces []piece, sepLen int) int {
	total := 0
	for i, p := range pieces {
		if i > 0 {
			total += sepLen
		}
		total += len(p.text)
	}
	return total
}

// packPieces greedily accumulates pieces joined by sep until the target size
// would be exceeded, then emits and seeds the next chunk with ~overlap
// characters of trailing pieces.
func (c *Chunker) packPieces(pieces []piece, sep string) []span {
	var out []span
	var cur []piece
	curLen := 0

	for _, p := range pieces {
		if curLen > 0 && curLen+len(sep)+len(p.text) > c.size {
			out = append(out, joinedSpan(cur, sep))
			cur = append([]piece(nil), overlapSeed(cur, c.overlap)...)
			curLen = joinedLen(cur, len(sep))
		}
		cur = append(cur, p)
		if curLen > 0 {
			curLen += len(sep)
		}
		curLen += len(p.text)
	}
	if len(cur) > 0 {
		out = append(out, joinedSpan(cur, sep))
	}
	return out
}

// overlapSeed returns the trailing pieces whose combined length stays within
// the overlap budget, preserving order.
func overlapSeed(cur []piece, overlap int) []piece {
	if overlap <= 0 {
		return nil
	}
	total := 0
	i := len(cur)
	for i > 0 {
		next := total + len(cur[i-1].text)
		if total > 0 && next > overlap {
			break
		}
		total = next
		i--
		if total >= overlap {
			break
		}
	}
	return cur[i:]
}

func joinedSpan(pieces []piece, sep string) span {
	parts := make([]string, len(pieces))
	for i, p := range pieces {
		parts[i] = p.text
	}
	first := pieces[0]
	last := pieces[len(pieces)-1]
	return span{
		start: first.start,
		end:   last.start + len(last.text),
		text:  strings.Join(parts, sep),
	}
}

// splitSentences splits on sentence terminators ('.', '!', '?') followed by
// whitespace, keeping the terminator with the sentence and recording each
// sentence's offset in the source.
func splitSentences(content string) []piece {
	var out []piece
	start := 0
	i := 0
	n := len(content)
	for i < n {
		ch := content[i]
		if ch == '.' || ch == '!' || ch == '?' {
			j := i + 1
			for j < n && (content[j] == '.' || content[j] == '!' || content[j] == '?') {
				j++
			}
			if j >= n || content[j] == ' ' || content[j] == '\t' || content[j] == '\n' || content[j] == '\r' {
				if p, ok := trimmedPiece(content, start, j); ok {
					out = append(out, p)
				}
				for j < n && (content[j] == ' ' || content[j] == '\t' || content[j] == '\n' || content[j] == '\r') {
					j++
				}
				start = j
			}
			i = j
			continue
		}
		i++
	}
	if p, ok := trimmedPiece(content, start, n); ok {
		out = append(out, p)
	}
	return out
}

// splitParagraphs splits on blank-line delimiters, advancing positions by
// the actual delimiter length rather than assuming two characters.
func splitParagraphs(content string) []piece {
	var out []piece
	prev := 0
	for _, loc := range paragraphDelim.FindAllStringIndex(content, -1) {
		if p, ok := trimmedPiece(content, prev, loc[0]); ok {
			out = append(out, p)
		}
		prev = loc[1]
	}
	if p, ok := trimmedPiece(content, prev, len(content)); ok {
		out = append(out, p)
	}
	return out
}

// trimmedPiece trims whitespace from a source range, keeping the offset of
// the first retained character.
func trimmedPiece(content string, start, end int) (piece, bool) {
	for start < end && isSpace(content[start]) {
		start++
	}
	for end > start && isSpace(content[end-1]) {
		end--
	}
	if start >= end {
		return piece{}, false
	}
	return piece{text: content[start:end], start: start}, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
