package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shineum/research-mailer/internal/eml"
	"github.com/shineum/research-mailer/internal/report"
)

// SendCmd emails one report file without running research.
type SendCmd struct {
	File     string `arg:"" type:"path" help:"Report file to send (HTML, a saved .eml message, or Markdown with --markdown)."`
	Subject  string `help:"Subject line. Defaults to the report's first heading, else the file name."`
	Markdown bool   `help:"Render the file from Markdown to an HTML email."`
}

func (c *SendCmd) Run(rc *runContext) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}

	subject, body, err := c.compose(data)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(rc.ctx, rc.cfg)
	if err != nil {
		return err
	}

	result, err := dispatcher.Send(rc.ctx, subject, body)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(rc.stdout)
	return enc.Encode(result)
}

// compose returns the subject and HTML body for the file content.
func (c *SendCmd) compose(data []byte) (subject, body string, err error) {
	fallback := strings.TrimSuffix(filepath.Base(c.File), filepath.Ext(c.File))
	subject = c.Subject

	switch {
	case strings.EqualFold(filepath.Ext(c.File), ".eml"):
		doc, err := eml.Parse(data)
		if err != nil {
			return "", "", fmt.Errorf("reading saved message: %w", err)
		}
		if subject == "" {
			subject = doc.Subject
		}
		if subject == "" {
			subject = fallback
		}
		return subject, doc.HTML(), nil

	case c.Markdown:
		content := string(data)
		if subject == "" {
			subject = report.Subject(content, fallback)
		}
		body, err = report.EmailDocument(subject, content)
		if err != nil {
			return "", "", fmt.Errorf("rendering report: %w", err)
		}
		return subject, body, nil

	default:
		if subject == "" {
			subject = fallback
		}
		return subject, string(data), nil
	}
}
