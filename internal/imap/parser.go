package imap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"

	"meetprep/internal/models"
)

const (
	// maxBodyChars bounds how much of a message body is kept for scoring.
	maxBodyChars    = 2000
	maxSnippetChars = 200
)

// bodySection is the whole message, fetched without setting \Seen.
var bodySection = &imap.BodySectionName{Peek: true}

// fetchMessages fetches envelope, internal date and full body for the given UIDs.
func fetchMessages(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		bodySection.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return result, nil
}

// parseMessage converts a fetched IMAP message to the internal model.
func parseMessage(m *imap.Message) (models.Message, error) {
	if m == nil {
		return models.Message{}, fmt.Errorf("imap message is nil")
	}

	msg := models.Message{
		ID:        "uid:" + strconv.FormatUint(uint64(m.Uid), 10),
		Timestamp: m.InternalDate.UTC(),
	}

	if env := m.Envelope; env != nil {
		if env.MessageId != "" {
			msg.ID = env.MessageId
			msg.ThreadID = env.MessageId
		}
		if env.InReplyTo != "" {
			msg.ThreadID = env.InReplyTo
		}
		if len(env.From) > 0 {
			msg.From = formatAddress(env.From[0])
		}
		msg.To = formatAddressList(env.To)
		msg.Cc = formatAddressList(env.Cc)
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Timestamp = env.Date.UTC()
		}
	}

	if body := m.GetBody(bodySection); body != nil {
		parsed, err := enmime.ReadEnvelope(body)
		if err != nil {
			return models.Message{}, fmt.Errorf("failed to parse email body: %w", err)
		}
		// enmime derives Text from the HTML part when there is no plain text.
		msg.Body = truncate(strings.TrimSpace(parsed.Text), maxBodyChars)
		if refs := strings.Fields(parsed.GetHeader("References")); len(refs) > 0 {
			msg.ThreadID = refs[0]
		}
	}
	msg.Snippet = truncate(strings.Join(strings.Fields(msg.Body), " "), maxSnippetChars)
	return msg, nil
}

// formatAddress renders the bare address; display names do not matter for matching.
func formatAddress(address *imap.Address) string {
	if address == nil || (address.MailboxName == "" && address.HostName == "") {
		return ""
	}
	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if formatted := formatAddress(address); formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
