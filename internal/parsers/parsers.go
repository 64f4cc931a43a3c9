// Package parsers extracts plain text and metadata from uploaded or
// fetched document bytes, per document type.
package parsers

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/prk2007/ragvault/internal/catalog"
)

// ParseError wraps a parse failure with the document-type-specific step
// (kind) that failed.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parsers: %s: %v", e.Kind, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Kind: kind, Err: err}
}

// Result is the common output shape across all document types.
type Result struct {
	Content        string
	CharacterCount int
	WordCount      int
	PageCount      int // 0 when not applicable (txt/md/html)
	Title          string
	Author         string
}

// DetectDocType maps a filename extension to a catalog.DocType. The second
// return value is false for unrecognized extensions.
func DetectDocType(filename string) (catalog.DocType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return catalog.DocPDF, true
	case ".htm", ".html":
		return catalog.DocHTML, true
	case ".txt":
		return catalog.DocTXT, true
	case ".md", ".markdown":
		return catalog.DocMD, true
	default:
		return "", false
	}
}

// Parse dispatches to the type-specific parser for docType.
func Parse(docType catalog.DocType, data []byte) (Result, error) {
	switch docType {
	case catalog.DocPDF:
		return parsePDF(data)
	case catalog.DocHTML:
		return parseHTML(data)
	case catalog.DocTXT:
		return parseText(data)
	case catalog.DocMD:
		return parseMarkdown(data)
	default:
		return Result{}, newParseError("detect", fmt.Errorf("unsupported doc type %q", docType))
	}
}

func fillCounts(r *Result) {
	r.CharacterCount = len([]rune(r.Content))
	r.WordCount = countWords(r.Content)
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func parseText(data []byte) (Result, error) {
	r := Result{Content: strings.TrimSpace(string(data))}
	fillCounts(&r)
	return r, nil
}
