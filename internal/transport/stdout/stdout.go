// Package stdout implements a dry-run EmailTransport that prints messages instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/transport"
)

const separator = "========================================\n"

// Transport prints email messages in a human-readable format.
type Transport struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a new stdout Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a new Transport that writes to the given writer.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Send prints the message. A failed write is reported as a transport error
// so a dry run never claims delivery it did not make.
func (p *Transport) Send(_ context.Context, msg *email.Message) (*transport.Receipt, error) {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: %s\n", msg.ID)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Content-Type: %s\n", msg.ContentType)
	fmt.Fprintf(&b, "Body: (%s)\n", formatSize(len(msg.Body)))
	b.WriteString(msg.Body + "\n")
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return &transport.Receipt{StatusCode: http.StatusOK, MessageID: msg.ID}, nil
}

// Name returns the transport name.
func (p *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
