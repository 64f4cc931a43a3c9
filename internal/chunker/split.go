package chunker

import (
	"regexp"
	"strings"
)

var sentenceTerminatorRe = regexp.MustCompile(`[.!?]\s`)

// findSplitPoint locates where to hard-split an oversized chunk: the
// sentence terminator nearest chunkSize within a +/-100 character window,
// else the nearest space within the 80%-100% window of chunkSize, else a
// hard cut at chunkSize.
func findSplitPoint(s string, chunkSize int) int {
	if chunkSize >= len(s) {
		return len(s)
	}

	lo := chunkSize - 100
	if lo < 0 {
		lo = 0
	}
	hi := chunkSize + 100
	if hi > len(s) {
		hi = len(s)
	}
	if lo < hi {
		window := s[lo:hi]
		locs := sentenceTerminatorRe.FindAllStringIndex(window, -1)
		if len(locs) > 0 {
			best := -1
			bestDist := -1
			for _, loc := range locs {
				pos := lo + loc[0] + 1 // split right after the terminator
				dist := pos - chunkSize
				if dist < 0 {
					dist = -dist
				}
				if bestDist == -1 || dist < bestDist {
					bestDist = dist
					best = pos
				}
			}
			if best > 0 && best < len(s) {
				return best
			}
		}
	}

	lo2 := int(float64(chunkSize) * 0.8)
	hi2 := chunkSize
	if hi2 > len(s) {
		hi2 = len(s)
	}
	if lo2 < hi2 {
		if idx := strings.LastIndex(s[lo2:hi2], " "); idx >= 0 {
			pos := lo2 + idx + 1
			if pos > 0 && pos < len(s) {
				return pos
			}
		}
	}

	return chunkSize
}
