// Package graph implements an EmailTransport that sends emails via the Microsoft Graph API.
package graph

import "github.com/shineum/research-mailer/internal/email"

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// oauthError is the token endpoint's error body.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Message into a Graph API sendMail request body.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	contentType := "text"
	if msg.ContentType == email.ContentTypeHTML {
		contentType = "html"
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: contentType,
				Content:     msg.Body,
			},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: msg.To}},
			},
		},
		SaveToSentItems: true,
	}
}
