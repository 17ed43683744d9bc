package parser

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Headings up to this level start a new section.
const sectionHeadingLevel = 2

func parseMarkdownFile(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parseMarkdown(data)
}

// parseMarkdown strips markdown syntax and splits the plain text into one
// page per top level heading. Text before the first heading is its own page.
func parseMarkdown(src []byte) ([]page, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		pages   []page
		current strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			pages = append(pages, page{number: len(pages) + 1, text: current.String()})
		}
		current.Reset()
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case ast.KindParagraph, ast.KindHeading, ast.KindFencedCodeBlock, ast.KindCodeBlock:
				current.WriteString("\n\n")
			case ast.KindTextBlock:
				current.WriteString("\n")
			case east.KindTableCell:
				current.WriteString("\t")
			case east.KindTableRow, east.KindTableHeader:
				current.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level <= sectionHeadingLevel {
				flush()
			}
		case *ast.Text:
			current.Write(node.Segment.Value(src))
			if node.HardLineBreak() {
				current.WriteString("\n")
			} else if node.SoftLineBreak() {
				current.WriteString(" ")
			}
		case *ast.String:
			current.Write(node.Value)
		case *ast.AutoLink:
			current.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				current.Write(seg.Value(src))
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	flush()
	return pages, nil
}
