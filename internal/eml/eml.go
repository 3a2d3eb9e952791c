// Package eml extracts the subject and body of a saved RFC 5322 report email
// so it can be re-sent.
package eml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Document is the sendable content of a saved message. Attachments are
// dropped.
type Document struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// HTML returns the HTML body, or the text body escaped inside a <pre> block
// when the message has no HTML part.
func (d *Document) HTML() string {
	if d.HTMLBody != "" {
		return d.HTMLBody
	}
	return "<pre>" + html.EscapeString(d.TextBody) + "</pre>"
}

var wordDecoder = &mime.WordDecoder{}

// Parse reads a raw message. It handles single-part text or HTML messages
// and nested multipart messages; the first text/plain and text/html parts win.
func Parse(raw []byte) (*Document, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	doc := &Document{Subject: decodeHeader(msg.Header.Get("Subject"))}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		doc.TextBody = string(body)
		return doc, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, doc); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return doc, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		doc.HTMLBody = string(body)
	} else {
		doc.TextBody = string(body)
	}
	return doc, nil
}

func parseMultipart(body io.Reader, boundary string, doc *Document) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if params["boundary"] == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, params["boundary"], doc); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		if strings.HasPrefix(part.Header.Get("Content-Disposition"), "attachment") {
			slog.Debug("skipping attachment", "filename", part.FileName())
			continue
		}

		// multipart.Reader already decodes quoted-printable parts.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		switch mediaType {
		case "text/plain":
			if doc.TextBody == "" {
				doc.TextBody = string(content)
			}
		case "text/html":
			if doc.HTMLBody == "" {
				doc.HTMLBody = string(content)
			}
		default:
			slog.Debug("skipping MIME part", "content_type", mediaType)
		}
	}
}

// decodeBody reads r, undoing base64 or quoted-printable transfer encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		return raw, nil
	}
}

// decodeHeader decodes RFC 2047 encoded words, returning raw on failure.
func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
