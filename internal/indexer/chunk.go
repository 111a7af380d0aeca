package indexer

import "unicode/utf8"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ChunkText splits text into windows of size runes, each starting
// size-overlap runes after the previous one. Consecutive windows share
// overlap runes. The last window may be shorter, and when overlap is large
// the tail windows can lie entirely inside their predecessor. Text that is
// not valid UTF-8 is windowed by bytes so the chunks keep its exact bytes.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size, overlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if overlap < 0 {
		overlap = 0
	}
	stride := size - overlap
	if stride < 1 {
		stride = 1
	}
	if len(text) == 0 {
		return nil
	}

	// offs holds the byte offset of every unit plus the end of the text.
	var offs []int
	if utf8.ValidString(text) {
		offs = make([]int, 0, utf8.RuneCountInString(text)+1)
		for i := range text {
			offs = append(offs, i)
		}
	} else {
		offs = make([]int, 0, len(text)+1)
		for i := 0; i < len(text); i++ {
			offs = append(offs, i)
		}
	}
	n := len(offs)
	offs = append(offs, len(text))

	chunks := make([]string, 0, (n+stride-1)/stride)
	for start := 0; start < n; start += stride {
		end := min(start+size, n)
		chunks = append(chunks, text[offs[start]:offs[end]])
	}
	return chunks
}
