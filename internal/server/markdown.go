package server

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/conneroisu/nanorender/internal/renderer"
)

// Markdown templates are rendered first and converted afterwards, so tags
// may appear anywhere in the Markdown source. Raw HTML in the source is
// kept: by this point every interpolation is already escaped or sanitized.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
}

func isMarkdown(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".md" || ext == ".markdown"
}

func (s *PreviewServer) markdownPage(src, title string) (string, error) {
	var body bytes.Buffer
	if err := s.markdown.Convert([]byte(src), &body); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	page.WriteString(renderer.EscapeHTML(title))
	page.WriteString("</title>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.String(), nil
}
