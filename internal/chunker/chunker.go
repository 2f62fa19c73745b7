package chunker

import "strings"

// DefaultSeparators is the split priority order: paragraph, line, sentence
// terminators (Latin and Arabic script), clause commas (both scripts), word,
// then character-level as the guaranteed-terminating last resort.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "۔", "؟", "! ", "? ", "،", ", ", " ", ""}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// charsPerPage drives the estimated page number. It is a heuristic for
	// display, not a parser-reported page.
	charsPerPage = 1800

	// anchorLen is how much of a chunk's head is used to re-locate its start
	// offset in the source text. Offsets recovered this way are best-effort.
	anchorLen = 50
)

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// Chunk is one bounded segment of the source text. Content includes the
// overlap prefix carried over from the previous chunk; offsets refer to the
// pre-overlap content within the trimmed source text.
type Chunk struct {
	Content       string
	Index         int
	StartChar     int
	EndChar       int
	EstimatedPage int
}

// Split cuts text into overlapping, size-bounded chunks along the highest
// priority separator that occurs in each region. Empty or whitespace-only
// input yields no chunks.
func Split(text string, opts Options) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	seps := opts.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}

	raw := splitRecursive(text, seps, chunkSize)
	if len(raw) == 0 {
		return nil
	}

	src := []rune(text)
	out := make([]Chunk, 0, len(raw))
	cursor := 0
	for i, content := range raw {
		start := locate(src, []rune(content), cursor)
		end := start + len([]rune(content))
		cursor = end

		final := content
		if i > 0 && overlap > 0 {
			prev := []rune(raw[i-1])
			tail := overlap
			if tail > len(prev) {
				tail = len(prev)
			}
			final = string(prev[len(prev)-tail:]) + content
		}

		out = append(out, Chunk{
			Content:       final,
			Index:         i,
			StartChar:     start,
			EndChar:       end,
			EstimatedPage: start/charsPerPage + 1,
		})
	}
	return out
}

// splitRecursive returns the pre-overlap chunk sequence. Every returned chunk
// is at most chunkSize runes; character-level fallback chunks are exactly
// chunkSize except the final remainder.
func splitRecursive(text string, seps []string, chunkSize int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) <= chunkSize {
		return []string{trimmed}
	}

	sepIdx := -1
	for i, sep := range seps {
		if sep == "" {
			sepIdx = i
			break
		}
		if strings.Contains(text, sep) {
			sepIdx = i
			break
		}
	}
	if sepIdx == -1 || seps[sepIdx] == "" {
		return forceSplit(trimmed, chunkSize)
	}

	sep := seps[sepIdx]
	rest := seps[sepIdx+1:]
	pieces := splitKeepSeparator(text, sep)

	out := make([]string, 0, len(pieces))
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		if bufLen == 0 {
			return
		}
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if pieceLen > chunkSize {
			// A single piece that still exceeds the budget: recurse with the
			// remaining, strictly lower-priority separators.
			flush()
			sub := rest
			if len(sub) == 0 {
				sub = []string{""}
			}
			out = append(out, splitRecursive(piece, sub, chunkSize)...)
			continue
		}
		if bufLen+pieceLen > chunkSize {
			flush()
		}
		buf.WriteString(piece)
		bufLen += pieceLen
	}
	flush()
	return out
}

// splitKeepSeparator splits on sep while keeping sep attached to the
// preceding piece, so concatenating the pieces reproduces the input.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func forceSplit(text string, chunkSize int) []string {
	r := []rune(text)
	out := make([]string, 0, len(r)/chunkSize+1)
	for start := 0; start < len(r); start += chunkSize {
		end := start + chunkSize
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[start:end]))
	}
	return out
}

// locate recovers a chunk's start offset by searching for its head near the
// expected running position. On repetitive text this can mis-attribute the
// offset; callers treat it as telemetry, not an exact backreference.
func locate(src, content []rune, expected int) int {
	if len(content) == 0 {
		return expected
	}
	anchor := content
	if len(anchor) > anchorLen {
		anchor = anchor[:anchorLen]
	}
	from := expected - 2*anchorLen
	if from < 0 {
		from = 0
	}
	if idx := indexRunes(src, anchor, from); idx >= 0 {
		return idx
	}
	if idx := indexRunes(src, anchor, 0); idx >= 0 {
		return idx
	}
	return expected
}

func indexRunes(hay, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	last := len(hay) - len(needle)
	for i := from; i <= last; i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
