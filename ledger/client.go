// Package ledger is the explorer's only way to talk to the ledger node.
//
// Every method may block on network or database I/O. Implementations report
// a missing entity with ErrNotFound and any failure to reach or understand the
// node with a *TransportError, so that callers retry only the latter.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"ledger-explorer/models"
)

// ErrNotFound means the ledger answered and the entity does not exist.
var ErrNotFound = errors.New("ledger: entity not found")

// TransportError wraps a failure to obtain an answer from the ledger.
type TransportError struct {
	Op string
	// Unavailable is set when the node explicitly reported it cannot serve
	// (HTTP 503, connection refused) as opposed to a malformed answer.
	Unavailable bool
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func notFound(op string) error {
	return fmt.Errorf("ledger %s: %w", op, ErrNotFound)
}

// Block bundles a block header with the transactions it contains, so that
// both can be applied to the mirror in one step.
type Block struct {
	Record       models.BlockRecord         `json:"block"`
	Transactions []models.TransactionRecord `json:"transactions"`
}

// Client is the query surface of the ledger.
type Client interface {
	FetchBlock(ctx context.Context, height uint64) (*Block, error)
	FetchTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error)
	FetchAccount(ctx context.Context, id models.AccountID) (*models.AccountRecord, error)
	FetchDomain(ctx context.Context, id string) (*models.DomainRecord, error)
	ListDomains(ctx context.Context) ([]models.DomainRecord, error)
	ListDomainAccounts(ctx context.Context, domain string) ([]models.AccountRecord, error)
	ListDomainAssets(ctx context.Context, domain string) ([]models.AssetDefinitionRecord, error)
	CurrentHeight(ctx context.Context) (uint64, error)
	ListPeers(ctx context.Context) ([]models.PeerRecord, error)
	ListRoles(ctx context.Context) ([]models.RoleRecord, error)
	Status(ctx context.Context) (*models.NodeStatus, error)
}
