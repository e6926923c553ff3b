package imap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"

	"meetprep/internal/models"
)

const defaultLimit = 20

// Config describes how to reach the mailbox.
type Config struct {
	Server   string // host:port
	Username string
	Password string
	Mailbox  string
	UseTLS   bool // true for production servers, false for local test servers
}

// Source is a message source backed by one IMAP connection.
// Commands are serialized over the connection; concurrent searches queue on the mutex.
type Source struct {
	mu      sync.Mutex
	client  *client.Client
	logger  *slog.Logger
	mailbox string
}

// Dial connects, logs in and selects the mailbox read-only.
func Dial(cfg Config, logger *slog.Logger) (*Source, error) {
	c, err := connect(cfg.Server, cfg.UseTLS)
	if err != nil {
		return nil, err
	}
	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
	}

	logger.Info("Connected to IMAP server", "server", cfg.Server, "mailbox", mailbox)
	return &Source{client: c, logger: logger, mailbox: mailbox}, nil
}

// connect dials the IMAP server with a 5-second timeout.
func connect(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return c, nil
}

// Close logs out and closes the connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Logout()
}

// Search runs one query against the mailbox.
// The context bounds how long the caller waits; a command already sent to the
// server runs to completion in the background.
func (s *Source) Search(ctx context.Context, q models.Query) ([]models.Message, error) {
	var messages []models.Message
	err := s.do(ctx, func(c *client.Client) error {
		var err error
		messages, err = s.search(c, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Source) do(ctx context.Context, fn func(c *client.Client) error) error {
	done := make(chan error, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn(s.client)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Source) search(c *client.Client, q models.Query) ([]models.Message, error) {
	uids, err := c.UidSearch(buildCriteria(q))
	if err != nil {
		return nil, fmt.Errorf("failed to search IMAP: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	// UIDs ascend with arrival, so the tail holds the newest messages.
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	if len(uids) == 0 {
		return []models.Message{}, nil
	}

	fetched, err := fetchMessages(c, uids)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(fetched))
	kept := make([]uint32, 0, len(fetched))
	for _, m := range fetched {
		msg, err := parseMessage(m)
		if err != nil {
			s.logger.Warn("Skipping unparseable IMAP message", "uid", m.Uid, "error", err)
			continue
		}
		if !inWindow(msg.Timestamp, q.Window) {
			continue
		}
		messages = append(messages, msg)
		kept = append(kept, m.Uid)
	}

	s.countThreads(c, messages, kept, q.Window)
	return messages, nil
}

// buildCriteria translates a query into IMAP SEARCH criteria.
// IMAP dates have day granularity, so the window is widened to whole days here
// and applied exactly after fetching.
func buildCriteria(q models.Query) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	if q.Participant != "" {
		from := imap.NewSearchCriteria()
		from.Header.Add("From", q.Participant)
		to := imap.NewSearchCriteria()
		to.Header.Add("To", q.Participant)
		cc := imap.NewSearchCriteria()
		cc.Header.Add("Cc", q.Participant)

		toOrCc := imap.NewSearchCriteria()
		toOrCc.Or = [][2]*imap.SearchCriteria{{to, cc}}
		criteria.Or = [][2]*imap.SearchCriteria{{from, toOrCc}}
	}
	if q.Keyword != "" {
		criteria.Text = []string{q.Keyword}
	}
	if !q.Window.Start.IsZero() {
		criteria.Since = truncateDay(q.Window.Start)
	}
	if !q.Window.End.IsZero() {
		criteria.Before = truncateDay(q.Window.End).AddDate(0, 0, 1)
	}
	return criteria
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func inWindow(t time.Time, w models.TimeRange) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// countThreads fills ThreadCount, using the server's THREAD extension when it is
// available and falling back to counting messages with the same base subject.
// uids holds the UID of each message.
func (s *Source) countThreads(c *client.Client, messages []models.Message, uids []uint32, window models.TimeRange) {
	if len(messages) == 0 {
		return
	}

	if ok, _ := c.Support("THREAD=REFERENCES"); ok {
		sizes, err := threadSizes(c, window)
		if err == nil {
			for i := range messages {
				messages[i].ThreadCount = max(sizes[uids[i]], 1)
			}
			return
		}
		s.logger.Debug("THREAD command failed, counting by subject", "error", err)
	}

	bySubject := make(map[string]int)
	for i := range messages {
		subject := baseSubject(messages[i].Subject)
		n, ok := bySubject[subject]
		if !ok {
			n = 1
			if subject != "" {
				criteria := imap.NewSearchCriteria()
				criteria.Header.Add("Subject", subject)
				if uids, err := c.UidSearch(criteria); err == nil && len(uids) > 0 {
					n = len(uids)
				}
			}
			bySubject[subject] = n
		}
		messages[i].ThreadCount = n
	}
}

// threadSizes maps every UID in the mailbox to the size of its REFERENCES thread.
func threadSizes(c *client.Client, window models.TimeRange) (map[uint32]int, error) {
	criteria := imap.NewSearchCriteria()
	if !window.Start.IsZero() {
		criteria.Since = truncateDay(window.Start)
	}

	threads, err := sortthread.NewThreadClient(c).UidThread(sortthread.References, criteria)
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}

	sizes := make(map[uint32]int)
	for _, t := range threads {
		var uids []uint32
		collectUIDs(t, &uids)
		for _, uid := range uids {
			sizes[uid] = len(uids)
		}
	}
	return sizes, nil
}

func collectUIDs(t *sortthread.Thread, uids *[]uint32) {
	if t == nil {
		return
	}
	if t.Id != 0 {
		*uids = append(*uids, t.Id)
	}
	for _, child := range t.Children {
		collectUIDs(child, uids)
	}
}

// baseSubject strips reply and forward prefixes.
func baseSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, prefix := range []string{"re:", "fwd:", "fw:", "aw:"} {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return s
		}
	}
}
