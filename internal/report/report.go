// Package report renders Markdown research reports for email and the browser.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func displayPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
	})
	return policy
}

// ToHTML renders GitHub-flavoured Markdown to an HTML fragment.
// Raw HTML in the source is omitted.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Sanitize strips scripts, event handlers and unsafe URLs, keeping the
// formatting a rendered report uses.
func Sanitize(html string) string {
	return displayPolicy().Sanitize(html)
}

// ToSafeHTML renders markdown and sanitizes the result for browser display.
func ToSafeHTML(markdown string) (string, error) {
	html, err := ToHTML(markdown)
	if err != nil {
		return "", err
	}
	return Sanitize(html), nil
}

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, Helvetica, Arial, sans-serif; line-height: 1.5; max-width: 720px; margin: 0 auto; padding: 16px;">
{{.Content}}
</body>
</html>
`))

// EmailDocument renders markdown into a complete HTML email document.
func EmailDocument(subject, markdown string) (string, error) {
	content, err := ToHTML(markdown)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	data := map[string]any{
		"Subject": subject,
		"Content": template.HTML(content), //nolint:gosec // produced by goldmark with raw HTML disabled
	}
	if err := emailLayout.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing email layout: %w", err)
	}
	return buf.String(), nil
}

// Subject returns the text of the first level 1 or 2 heading in markdown,
// or fallback when there is none.
func Subject(markdown, fallback string) string {
	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	var subject string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 {
			return ast.WalkContinue, nil
		}
		subject = strings.TrimSpace(plainText(h, src))
		if subject == "" {
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkStop, nil
	})

	if subject == "" {
		return fallback
	}
	return subject
}

func plainText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
