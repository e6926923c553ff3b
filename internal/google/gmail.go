package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"meetprep/internal/models"
)

const (
	gmailUser = "me"
	// maxBodyChars bounds how much of a message body is kept for scoring.
	maxBodyChars = 2000
	defaultLimit = 20
)

// GmailClient searches a Gmail mailbox.
type GmailClient struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailClient creates a Gmail message source.
func NewGmailClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, opts ...option.ClientOption) (*GmailClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailClient{service: service, logger: logger}, nil
}

// Search runs one query and returns the matching messages with their thread sizes.
func (c *GmailClient) Search(ctx context.Context, q models.Query) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := BuildQuery(q)
	c.logger.Debug("Searching Gmail", "query", query)

	list, err := c.service.Users.Messages.List(gmailUser).Q(query).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list gmail messages: %w", err)
	}

	threadSizes := make(map[string]int)
	messages := make([]models.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		full, err := c.service.Users.Messages.Get(gmailUser, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Skipping gmail message that could not be fetched", "id", ref.Id, "error", err)
			continue
		}

		msg := toMessage(full)
		msg.ThreadCount = c.threadSize(ctx, msg.ThreadID, threadSizes)
		messages = append(messages, msg)
	}
	return messages, nil
}

// threadSize returns the number of messages in a thread, memoised per search.
func (c *GmailClient) threadSize(ctx context.Context, threadID string, cache map[string]int) int {
	if threadID == "" {
		return 1
	}
	if n, ok := cache[threadID]; ok {
		return n
	}

	n := 1
	thread, err := c.service.Users.Threads.Get(gmailUser, threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		c.logger.Debug("Could not load gmail thread, assuming a single message", "threadID", threadID, "error", err)
	} else if len(thread.Messages) > 0 {
		n = len(thread.Messages)
	}
	cache[threadID] = n
	return n
}

// BuildQuery renders a query in Gmail search syntax.
func BuildQuery(q models.Query) string {
	var parts []string
	if q.Participant != "" {
		parts = append(parts, fmt.Sprintf("(from:%s OR to:%s OR cc:%s)", q.Participant, q.Participant, q.Participant))
	}
	if q.Keyword != "" {
		kw := strings.ReplaceAll(q.Keyword, `"`, "")
		parts = append(parts, fmt.Sprintf(`(subject:"%s" OR "%s")`, kw, kw))
	}
	if !q.Window.Start.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", q.Window.Start.Unix()))
	}
	if !q.Window.End.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", q.Window.End.Unix()))
	}
	parts = append(parts, "-in:spam", "-in:trash")
	return strings.Join(parts, " ")
}

// toMessage converts a full Gmail message to the internal model.
func toMessage(m *gmail.Message) models.Message {
	msg := models.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
	}
	if m.InternalDate > 0 {
		msg.Timestamp = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = splitAddresses(h.Value)
		case "cc":
			msg.Cc = splitAddresses(h.Value)
		case "subject":
			msg.Subject = h.Value
		case "date":
			if msg.Timestamp.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					msg.Timestamp = t.UTC()
				}
			}
		}
	}

	body := extractBody(m.Payload)
	if body == "" {
		body = m.Snippet
	}
	msg.Body = truncate(body, maxBodyChars)
	return msg
}

// extractBody prefers the first text/plain part and falls back to converted HTML.
func extractBody(part *gmail.MessagePart) string {
	if text := findPart(part, "text/plain"); text != "" {
		return text
	}
	if html := findPart(part, "text/html"); html != "" {
		text, err := html2text.FromString(html, html2text.Options{OmitLinks: true})
		if err == nil {
			return text
		}
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		if text := findPart(p, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// splitAddresses parses an address list header, keeping raw entries it cannot parse.
func splitAddresses(header string) []string {
	list, err := mail.ParseAddressList(header)
	if err != nil {
		var out []string
		for _, s := range strings.Split(header, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
