// Package messaging delivers routine messages to routine owners. The Twilio
// backend sends WhatsApp messages; the log backend prints them, for local
// development without Twilio credentials.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/neurospicy/routinekit/internal/models"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a message delivery backend. It extends the engine's messenger
// port with lifecycle control.
type Service interface {
	SendMessage(ctx context.Context, owner models.OwnerID, text string) error
	Start(ctx context.Context) error
	Stop() error
}

// CanonicalizePhoneNumber strips formatting from a phone number and validates
// that enough digits remain.
func CanonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("Canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// LogService writes outbound messages to the log instead of a transport.
type LogService struct {
	mu      sync.RWMutex
	stopped bool
}

// NewLogService creates a log-only delivery backend.
func NewLogService() *LogService {
	return &LogService{}
}

func (s *LogService) SendMessage(ctx context.Context, owner models.OwnerID, text string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	slog.Info("Message (log only)", "owner", string(owner), "text", text)
	return nil
}

func (s *LogService) Start(ctx context.Context) error { return nil }

func (s *LogService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
