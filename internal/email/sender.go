// Package email delivers verification codes to their recipients.
package email

import (
	"context"
	"fmt"
)

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// VerificationSubject is the subject line of every code email.
const VerificationSubject = "Your verification code"

// VerificationBody renders the plain-text body carrying code.
func VerificationBody(code string) string {
	return fmt.Sprintf("Your verification code is %s.\r\n\r\nIf you did not request it, ignore this message.", code)
}
