package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jmerrifield20/mailcode/internal/email"
)

// MailHandler writes one line per task to out and, when a sender is set,
// mails the code to the task's address.
type MailHandler struct {
	mu     sync.Mutex
	out    io.Writer
	sender email.EmailSender
}

// NewMailHandler creates a MailHandler. sender may be nil.
func NewMailHandler(out io.Writer, sender email.EmailSender) *MailHandler {
	return &MailHandler{out: out, sender: sender}
}

// Handle implements Handler.
func (h *MailHandler) Handle(ctx context.Context, task Task) error {
	h.mu.Lock()
	_, err := fmt.Fprintln(h.out, task.Line())
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	if h.sender == nil {
		return nil
	}
	if err := h.sender.Send(ctx, task.Email, email.VerificationSubject, email.VerificationBody(task.Code)); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}
