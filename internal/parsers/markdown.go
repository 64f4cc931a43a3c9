package parsers

import (
	"regexp"
	"strings"
)

var markdownTitleRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

func parseMarkdown(data []byte) (Result, error) {
	content := strings.TrimSpace(string(data))
	r := Result{Content: content}
	if m := markdownTitleRe.FindStringSubmatch(content); m != nil {
		r.Title = strings.TrimSpace(m[1])
	}
	fillCounts(&r)
	return r, nil
}
