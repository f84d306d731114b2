package notify

import "context"

// Invitation carries everything the mailer needs to deliver an invite.
type Invitation struct {
	RecipientEmail string
	RecipientName  string
	InviterName    string
	ProjectName    string
	Permission     string
	Message        string
}

// Notifier delivers invitation messages. Delivery is best-effort; callers
// treat failures as non-fatal.
type Notifier interface {
	SendInvitation(ctx context.Context, invitation Invitation) error
}

// Nop is a Notifier that silently drops every message.
type Nop struct{}

// SendInvitation implements Notifier.
func (Nop) SendInvitation(context.Context, Invitation) error {
	return nil
}
