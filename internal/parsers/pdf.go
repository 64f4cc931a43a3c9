package parsers

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errEmptyPDFText = errors.New("no extractable text")

func parsePDF(data []byte) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, newParseError("pdf", err)
	}

	var sb strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return Result{}, newParseError("pdf", errEmptyPDFText)
	}

	r := Result{Content: content, PageCount: pageCount}
	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		r.Title = strings.TrimSpace(info.Key("Title").Text())
		r.Author = strings.TrimSpace(info.Key("Author").Text())
	}
	fillCounts(&r)
	return r, nil
}
