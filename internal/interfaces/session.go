package interfaces

import (
	"context"

	"github.com/ternarybob/plexus/internal/models"
)

// ChallengeSolver talks to an external anti-bot challenge solving service
type ChallengeSolver interface {
	CheckBalance(ctx context.Context) (float64, error)
	SubmitChallenge(ctx context.Context, task models.ChallengeTask) (int64, error)
	AwaitResult(ctx context.Context, taskID int64) (string, error)
}

// CredentialRenewer runs the full acquisition procedure and returns both bundles
type CredentialRenewer interface {
	Renew(ctx context.Context) (*models.CredentialSet, error)
}

// BackendClient is an authenticated session against the backend service
type BackendClient interface {
	// CreateAccount registers a throwaway account verified through the mail bundle's inbox
	CreateAccount(ctx context.Context, mail models.Bundle) error
	Search(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error)
	Close() error
}

// BackendFactory constructs a backend client from the site bundle
type BackendFactory func(site models.Bundle) (BackendClient, error)

// Mailbox is a disposable inbox used for the verification step
type Mailbox interface {
	Address(ctx context.Context) (string, error)
	// WaitForMessage blocks until a message whose sender contains from arrives
	WaitForMessage(ctx context.Context, from string) (*models.MailMessage, error)
}

// MailboxFactory constructs a mailbox from the mail-side bundle
type MailboxFactory func(mail models.Bundle) (Mailbox, error)

// RenewalStorage persists renewal outcomes
type RenewalStorage interface {
	SaveRenewal(ctx context.Context, record *models.RenewalRecord) error
	ListRenewals(ctx context.Context, limit int) ([]*models.RenewalRecord, error)
}

// SessionManager owns the credential lifecycle and serialises work against the backend
type SessionManager interface {
	// Submit runs one query, renewing first when the credentials are invalid
	Submit(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error)
	// Renew forces a renewal regardless of validity
	Renew(ctx context.Context, trigger string) error
	IsValid() bool
	Status() models.SessionStatus
}
