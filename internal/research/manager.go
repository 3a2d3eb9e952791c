// Package research produces Markdown research reports with an OpenAI-compatible
// model and emails the finished report.
package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/shineum/research-mailer/internal/metrics"
	"github.com/shineum/research-mailer/internal/report"
	"github.com/shineum/research-mailer/internal/tool"
)

// Status chunks shown while a run is in progress.
const (
	StatusWriting = "Researching and writing report..."
	StatusSending = "Report written, sending email..."
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

var (
	// ErrEmptyQuery is yielded when the query is blank.
	ErrEmptyQuery = errors.New("research query is empty")

	// ErrEmptyReport is yielded when the model streams no content.
	ErrEmptyReport = errors.New("model returned an empty report")
)

// Producer is an asynchronous source of display chunks for one query. Each
// chunk supersedes the previous one. A non-nil error ends the sequence.
type Producer interface {
	Run(ctx context.Context, query string) iter.Seq2[string, error]
}

// ChatClient is the subset of *openai.Client the manager uses.
type ChatClient interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// EmailTool is the send_email tool as the manager drives it.
type EmailTool interface {
	OpenAITool() openai.Tool
	Invoke(ctx context.Context, args map[string]any) (map[string]string, error)
	InvokeJSON(ctx context.Context, arguments string) (map[string]string, error)
}

// Config holds the model settings.
type Config struct {
	Model string
}

// Manager runs the research pipeline: stream a report, then email it.
type Manager struct {
	client ChatClient
	email  EmailTool
	model  string
}

// NewOpenAIClient returns a go-openai client for apiKey. An empty baseURL
// keeps the OpenAI default.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewManager creates a Manager.
func NewManager(client ChatClient, email EmailTool, cfg Config) *Manager {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Manager{client: client, email: email, model: cfg.Model}
}

// Run researches query. It yields a status chunk, then the report as it
// grows, then a sending status, then the finished report. If emailing
// fails, the error is yielded after the finished report.
func (m *Manager) Run(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		log := slog.With("run_id", uuid.NewString())

		query = strings.TrimSpace(query)
		if query == "" {
			metrics.RecordResearchRun(metrics.OutcomeFailed)
			yield("", ErrEmptyQuery)
			return
		}

		log.Info("research started", "query", query, "model", m.model)

		if !yield(StatusWriting, nil) {
			return
		}

		markdown, more, err := m.writeReport(ctx, query, yield)
		if !more {
			log.Info("research abandoned by consumer")
			return
		}
		if err != nil {
			log.Error("report generation failed", "error", err)
			metrics.RecordResearchRun(metrics.OutcomeFailed)
			yield("", err)
			return
		}

		if !yield(StatusSending, nil) {
			return
		}

		emailErr := m.emailReport(ctx, query, markdown)

		if !yield(markdown, nil) {
			return
		}

		if emailErr != nil {
			log.Error("emailing report failed", "error", emailErr)
			metrics.RecordResearchRun(metrics.OutcomeFailed)
			yield("", fmt.Errorf("emailing report: %w", emailErr))
			return
		}

		log.Info("research complete", "report_bytes", len(markdown))
		metrics.RecordResearchRun(metrics.OutcomeSuccess)
	}
}

// writeReport streams the report, yielding the accumulated text after each
// delta. more is false when the consumer stopped iterating.
func (m *Manager) writeReport(ctx context.Context, query string, yield func(string, error) bool) (markdown string, more bool, err error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: writerInstructions},
			{Role: openai.ChatMessageRoleUser, Content: "Query: " + query},
		},
		Stream: true,
	})
	if err != nil {
		return "", true, fmt.Errorf("starting report stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", true, fmt.Errorf("reading report stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}

		sb.WriteString(resp.Choices[0].Delta.Content)
		if !yield(sb.String(), nil) {
			return "", false, nil
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", true, ErrEmptyReport
	}
	return sb.String(), true, nil
}

// emailReport asks the model to call send_email with an HTML rendering of
// the report and executes the first such call. Without a usable call it
// renders the report itself and invokes the tool directly.
func (m *Manager) emailReport(ctx context.Context, query, markdown string) error {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: emailInstructions},
			{Role: openai.ChatMessageRoleUser, Content: markdown},
		},
		Tools: []openai.Tool{m.email.OpenAITool()},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tool.SendEmailName},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("email formatting request failed, sending rendered report", "error", err)
		return m.sendRendered(ctx, query, markdown)
	}

	if call, ok := findToolCall(resp, tool.SendEmailName); ok {
		_, err := m.email.InvokeJSON(ctx, call.Function.Arguments)
		return err
	}

	slog.Warn("model did not call send_email, sending rendered report")
	return m.sendRendered(ctx, query, markdown)
}

func (m *Manager) sendRendered(ctx context.Context, query, markdown string) error {
	subject := report.Subject(markdown, "Research report: "+query)
	body, err := report.EmailDocument(subject, markdown)
	if err != nil {
		return err
	}
	_, err = m.email.Invoke(ctx, map[string]any{
		"subject":   subject,
		"html_body": body,
	})
	return err
}

func findToolCall(resp openai.ChatCompletionResponse, name string) (openai.ToolCall, bool) {
	for _, choice := range resp.Choices {
		for _, call := range choice.Message.ToolCalls {
			if call.Function.Name == name {
				return call, true
			}
		}
	}
	return openai.ToolCall{}, false
}
