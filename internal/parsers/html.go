package parsers

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func parseHTML(data []byte) (Result, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Result{}, newParseError("html", err)
	}

	title := findTitle(doc)
	root := findFirst(doc, "main")
	if root == nil {
		root = findFirst(doc, "article")
	}
	if root == nil {
		root = findFirst(doc, "body")
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	extractText(root, &sb)

	content := strings.TrimSpace(whitespaceRe.ReplaceAllString(sb.String(), " "))
	r := Result{Content: content, Title: title}
	fillCounts(&r)
	return r, nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func isStrippedTag(tag string) bool {
	switch tag {
	case "script", "style", "noscript":
		return true
	default:
		return false
	}
}

func extractText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && isStrippedTag(n.Data) {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb)
	}
}
