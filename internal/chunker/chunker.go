// Package chunker splits parsed document text into overlapping chunks
// ("paragraph-with-overlap") ready for embedding.
package chunker

import (
	"regexp"
	"strings"
)

// Chunk is one piece of chunked content with its position in the
// reconstructed (paragraph-joined) text.
type Chunk struct {
	Index     int
	Content   string
	StartChar int
	EndChar   int
}

// Options tunes the chunking algorithm.
type Options struct {
	ChunkSize int
	Overlap   int
}

var paragraphSplitRe = regexp.MustCompile(`\n{2,}`)

func splitParagraphs(text string) []string {
	raw := paragraphSplitRe.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ChunkText splits text into dense, zero-indexed, overlapping chunks.
func ChunkText(text string, opt Options) []Chunk {
	chunkSize := opt.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	overlap := opt.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}

	paragraphs := splitParagraphs(text)

	var chunks []Chunk
	var current strings.Builder
	currentStart := 0
	nextIndex := 0

	overlapSuffix := func(s string) string {
		if overlap == 0 || len(s) <= overlap {
			return s
		}
		return s[len(s)-overlap:]
	}

	appendChunk := func(content string) {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Index:     nextIndex,
			Content:   trimmed,
			StartChar: currentStart,
			EndChar:   currentStart + len(trimmed),
		})
		nextIndex++
	}

	advanceStart := func(emitted string) {
		used := len(overlapSuffix(emitted))
		currentStart += len(emitted) - used
	}

	splitOversizedCurrent := func() {
		for current.Len() > int(float64(chunkSize)*1.5) {
			s := current.String()
			splitAt := findSplitPoint(s, chunkSize)
			prefix := s[:splitAt]
			remainder := s[splitAt:]

			appendChunk(prefix)
			advanceStart(prefix)

			seed := overlapSuffix(prefix)
			current.Reset()
			current.WriteString(seed)
			current.WriteString(remainder)
		}
	}

	for _, p := range paragraphs {
		if current.Len()+len(p) > chunkSize && current.Len() > 0 {
			emitted := current.String()
			appendChunk(emitted)
			advanceStart(emitted)

			seed := overlapSuffix(emitted)
			current.Reset()
			current.WriteString(seed)
			current.WriteString("\n\n")
			current.WriteString(p)
		} else {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(p)
		}
		splitOversizedCurrent()
	}

	if strings.TrimSpace(current.String()) != "" {
		appendChunk(current.String())
	}

	return chunks
}
