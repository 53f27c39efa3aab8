package source

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnako/letters"

	"github.com/Veraticus/paper-trail/internal/model"
)

// mboxScanBuffer bounds a single line; base64 attachment lines can be huge.
const mboxScanBuffer = 10 * 1024 * 1024

// MboxSource reads messages from a local mbox archive. It serves offline
// backfills and testing without touching the Gmail API.
type MboxSource struct {
	path    string
	workers int
	logger  *slog.Logger
}

// NewMboxSource creates a source over the mbox file at path.
func NewMboxSource(path string, logger *slog.Logger) *MboxSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MboxSource{
		path:    path,
		workers: runtime.NumCPU(),
		logger:  logger,
	}
}

// Name identifies this source in logs and run records.
func (s *MboxSource) Name() string {
	return "mbox"
}

// Fetch parses the archive and returns up to max messages ordered oldest
// first. The query parameter is Gmail syntax and does not apply to local
// archives; it is ignored.
func (s *MboxSource) Fetch(ctx context.Context, query string, max int) ([]model.RawMessage, error) {
	if query != "" {
		s.logger.Debug("Mbox source ignores query", "query", query)
	}

	jobs := make(chan string, s.workers)
	results := make(chan model.RawMessage, 100)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.parseWorker(jobs, results, &wg)
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readMessages(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var messages []model.RawMessage
	for msg := range results {
		messages = append(messages, msg)
	}

	if err := <-readErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].ReceivedAt.Equal(messages[j].ReceivedAt) {
			return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	if max > 0 && len(messages) > max {
		messages = messages[:max]
	}

	s.logger.Info("Fetched messages", "source", s.Name(), "count", len(messages), "path", s.path)
	return messages, nil
}

// readMessages splits the archive on "From " boundary lines and feeds each
// message body to the parse workers.
func (s *MboxSource) readMessages(jobs chan<- string) error {
	defer close(jobs)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open mbox: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, mboxScanBuffer)

	var content strings.Builder
	inMessage := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "From ") {
			if inMessage && content.Len() > 0 {
				jobs <- content.String()
				content.Reset()
			}
			inMessage = true
		} else if inMessage {
			content.WriteString(line + "\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read mbox: %w", err)
	}

	if inMessage && content.Len() > 0 {
		jobs <- content.String()
	}
	return nil
}

func (s *MboxSource) parseWorker(jobs <-chan string, results chan<- model.RawMessage, wg *sync.WaitGroup) {
	defer wg.Done()

	// The parser accumulates state per message, so each worker owns one
	parser := letters.NewEmailParser(letters.WithFileFilter(letters.NoFiles))

	for content := range jobs {
		email, err := parser.Parse(strings.NewReader(content))
		if err != nil {
			s.logger.Debug("Skipped unparseable message", "error", err)
			continue
		}
		if email.Text == "" && email.HTML == "" {
			continue
		}
		results <- mapEmail(&email)
	}
}

// mapEmail converts a parsed mbox message into the pipeline's raw form.
func mapEmail(email *letters.Email) model.RawMessage {
	raw := model.RawMessage{
		ID:         string(email.Headers.MessageID),
		ReceivedAt: email.Headers.Date.UTC(),
		Subject:    email.Headers.Subject,
		BodyText:   email.Text,
		BodyHTML:   email.HTML,
	}

	if len(email.Headers.From) > 0 && email.Headers.From[0] != nil {
		raw.From = email.Headers.From[0].String()
	}
	recipients := make([]string, 0, len(email.Headers.To))
	for _, to := range email.Headers.To {
		if to != nil {
			recipients = append(recipients, to.Address)
		}
	}
	raw.To = strings.Join(recipients, ", ")

	if raw.ID == "" {
		raw.ID = fallbackID(raw.Subject, raw.ReceivedAt)
	}
	return raw
}

// fallbackID derives a stable identifier for messages without a Message-ID
// header.
func fallbackID(subject string, receivedAt time.Time) string {
	data := fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(subject)), receivedAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("mbox-%x", hash[:8])
}
