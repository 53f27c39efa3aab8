// Package source fetches raw messages for the receipt pipeline.
package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/model"
	"github.com/Veraticus/paper-trail/internal/service"
)

// maxPageSize is the largest page the Gmail list API will return.
const maxPageSize = 500

// GmailSource fetches messages from the Gmail API.
type GmailSource struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailSource creates a Gmail-backed message source from an authenticated
// HTTP client.
func NewGmailSource(ctx context.Context, httpClient *http.Client, logger *slog.Logger) (*GmailSource, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &GmailSource{
		service: service,
		logger:  logger,
	}, nil
}

// Name identifies this source in logs and run records.
func (s *GmailSource) Name() string {
	return "gmail"
}

func (s *GmailSource) retryOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Fetch lists messages matching the query and returns up to max of them.
// Individual message fetch failures are logged and skipped.
func (s *GmailSource) Fetch(ctx context.Context, query string, max int) ([]model.RawMessage, error) {
	ids, err := s.listMessageIDs(ctx, query, max)
	if err != nil {
		return nil, err
	}

	messages := make([]model.RawMessage, 0, len(ids))
	for _, id := range ids {
		var msg *gmail.Message
		err := common.WithRetry(ctx, func() error {
			var getErr error
			msg, getErr = s.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
			return getErr
		}, s.retryOpts())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Failed to fetch message", "message_id", id, "error", err)
			continue
		}
		messages = append(messages, mapMessage(msg))
	}

	s.logger.Info("Fetched messages", "source", s.Name(), "count", len(messages), "query", query)
	return messages, nil
}

func (s *GmailSource) listMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		call := s.service.Users.Messages.List("me").Q(query).Context(ctx)
		if max > 0 {
			remaining := max - len(ids)
			if remaining > maxPageSize {
				remaining = maxPageSize
			}
			call = call.MaxResults(int64(remaining))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := common.WithRetry(ctx, func() error {
			var listErr error
			resp, listErr = call.Do()
			return listErr
		}, s.retryOpts())
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		if resp.NextPageToken == "" || (max > 0 && len(ids) >= max) {
			break
		}
		pageToken = resp.NextPageToken
	}

	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

// mapMessage converts a Gmail API message into the pipeline's raw form.
func mapMessage(msg *gmail.Message) model.RawMessage {
	raw := model.RawMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0).UTC(),
		Snippet:    msg.Snippet,
	}

	if msg.Payload == nil {
		return raw
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			raw.Subject = header.Value
		case "From":
			raw.From = header.Value
		case "To":
			raw.To = header.Value
		}
	}

	raw.BodyText, raw.BodyHTML = extractBodies(msg.Payload)
	return raw
}

// extractBodies walks the MIME tree for text/plain and text/html parts,
// falling back to the top-level body when neither is present.
func extractBodies(payload *gmail.MessagePart) (text, html string) {
	if body := findPart(payload, "text/plain"); body != nil {
		if decoded, err := decodeBase64(body.Data); err == nil {
			text = string(decoded)
		}
	}
	if body := findPart(payload, "text/html"); body != nil {
		if decoded, err := decodeBase64(body.Data); err == nil {
			html = string(decoded)
		}
	}

	if text == "" && html == "" && payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := decodeBase64(payload.Body.Data); err == nil {
			text = string(decoded)
		}
	}
	return text, html
}

func findPart(part *gmail.MessagePart, mimeType string) *gmail.MessagePartBody {
	if part == nil {
		return nil
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return part.Body
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != nil {
			return body
		}
	}
	return nil
}

func decodeBase64(data string) ([]byte, error) {
	// Gmail usually pads part data but not always
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
