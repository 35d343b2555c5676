// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package mail

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// ResetSubject is the subject line of password reset emails.
const ResetSubject = "Password Reset Request"

var resetTemplate = template.Must(template.New("reset").Parse(`<h1>Password Reset</h1>
<p>Hello {{.Name}},</p>
<p>You requested a password reset. Click the link below to reset your password:</p>
<p><a href="{{.URL}}">{{.URL}}</a></p>
<p>This link expires in {{.Minutes}} minutes.</p>
<p>If you did not request this, you can ignore this email.</p>
`))

// ResetMailer sends password reset links. It implements auth.ResetNotifier.
type ResetMailer struct {
	sender      Sender
	frontendURL string
}

// NewResetMailer creates a ResetMailer. Links point at
// <frontendURL>/reset-password/<token>.
func NewResetMailer(sender Sender, frontendURL string) *ResetMailer {
	return &ResetMailer{sender: sender, frontendURL: strings.TrimRight(frontendURL, "/")}
}

// ResetURL returns the link mailed for rawToken.
func (m *ResetMailer) ResetURL(rawToken string) string {
	return m.frontendURL + "/reset-password/" + rawToken
}

// SendPasswordReset mails the reset link for rawToken to user.
func (m *ResetMailer) SendPasswordReset(ctx context.Context, user *auth.User, rawToken string, expiresIn time.Duration) error {
	minutes := int(expiresIn.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var body bytes.Buffer
	err := resetTemplate.Execute(&body, struct {
		Name    string
		URL     string
		Minutes int
	}{Name: user.Name, URL: m.ResetURL(rawToken), Minutes: minutes})
	if err != nil {
		return oops.Code("MAIL_TEMPLATE_FAILED").With("template", "reset").Wrap(err)
	}

	return m.sender.Send(ctx, Message{To: user.Email, Subject: ResetSubject, HTML: body.String()})
}

var _ auth.ResetNotifier = (*ResetMailer)(nil)
