// ABOUTME: README analysis with goldmark: prose length and usage example detection.
// ABOUTME: Code blocks count as usage examples; their contents are not prose.

package quality

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ReadmeStats describes a README's documentation value.
type ReadmeStats struct {
	ProseLength int // characters of paragraph and heading text
	CodeBlocks  int // fenced or indented code blocks
}

var markdown = goldmark.New()

// AnalyzeReadme parses src as CommonMark.
func AnalyzeReadme(src string) ReadmeStats {
	if strings.TrimSpace(src) == "" {
		return ReadmeStats{}
	}
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var stats ReadmeStats
	var prose strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			stats.CodeBlocks++
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			t := n.(*ast.Text)
			prose.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				prose.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	stats.ProseLength = len(strings.TrimSpace(prose.String()))
	return stats
}
