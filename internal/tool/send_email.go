// Package tool exposes email dispatch as a function tool an LLM agent can call.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"

	"github.com/shineum/research-mailer/internal/dispatch"
)

const (
	// SendEmailName is the tool name agents call.
	SendEmailName = "send_email"

	// SendEmailDescription is shown to the model.
	SendEmailDescription = "Send an email with the given subject and HTML body."
)

// Definition describes a tool to an agent framework.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SendEmailArgs are the arguments of the send_email tool.
type SendEmailArgs struct {
	Subject  string `json:"subject" jsonschema_description:"The subject line of the email."`
	HTMLBody string `json:"html_body" jsonschema_description:"The HTML body of the email."`
}

// Sender is the dispatcher operation the tool wraps.
type Sender interface {
	Send(ctx context.Context, subject, htmlBody string) (*dispatch.Result, error)
}

// SendEmail is the send_email tool. Each Invoke sends exactly one email.
type SendEmail struct {
	sender Sender
	schema map[string]any
}

// NewSendEmail returns the send_email tool backed by sender.
func NewSendEmail(sender Sender) *SendEmail {
	return &SendEmail{
		sender: sender,
		schema: reflectSchema(SendEmailArgs{}),
	}
}

// Definition returns the tool's name, description and input schema.
func (t *SendEmail) Definition() Definition {
	return Definition{
		Name:        SendEmailName,
		Description: SendEmailDescription,
		InputSchema: t.schema,
	}
}

// OpenAITool returns the tool as an OpenAI function definition.
func (t *SendEmail) OpenAITool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        SendEmailName,
			Description: SendEmailDescription,
			Parameters:  t.schema,
		},
	}
}

// Invoke validates the decoded arguments and sends the email. On success
// it returns {"status": "success"}; failures are returned as errors.
func (t *SendEmail) Invoke(ctx context.Context, args map[string]any) (map[string]string, error) {
	subject, err := stringArg(args, "subject")
	if err != nil {
		return nil, err
	}
	body, err := stringArg(args, "html_body")
	if err != nil {
		return nil, err
	}
	return t.send(ctx, SendEmailArgs{Subject: subject, HTMLBody: body})
}

// InvokeJSON is Invoke for arguments encoded as a JSON object, the form
// models return in tool calls.
func (t *SendEmail) InvokeJSON(ctx context.Context, arguments string) (map[string]string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("decoding %s arguments: %w", SendEmailName, err)
	}
	return t.Invoke(ctx, args)
}

func (t *SendEmail) send(ctx context.Context, args SendEmailArgs) (map[string]string, error) {
	result, err := t.sender.Send(ctx, args.Subject, args.HTMLBody)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": result.Status}, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing '%s' argument", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' has invalid type: expected string, got %T", name, raw)
	}
	return s, nil
}

func reflectSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		panic(err) // reflected schemas always marshal
	}
	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		panic(err)
	}
	delete(result, "$schema")
	return result
}
