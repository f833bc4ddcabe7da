// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-explorer/ledger"
	"ledger-explorer/models"
)

// ErrInjected is the cause wrapped by injected transport failures.
var ErrInjected = errors.New("injected transport failure")

// Ledger is a mutable, concurrency-safe fake ledger.
type Ledger struct {
	mu       sync.Mutex
	blocks   []ledger.Block
	txs      map[string]models.TransactionRecord
	accounts map[models.AccountID]models.AccountRecord
	domains  map[string]models.DomainRecord
	assets   map[string][]models.AssetDefinitionRecord
	peers    []models.PeerRecord
	roles    []models.RoleRecord

	failures map[string]failure
	calls    map[string]int
	// Hook, when set, runs at the start of every call with the op name.
	Hook func(op string)
}

func New() *Ledger {
	return &Ledger{
		txs:      make(map[string]models.TransactionRecord),
		accounts: make(map[models.AccountID]models.AccountRecord),
		domains:  make(map[string]models.DomainRecord),
		assets:   make(map[string][]models.AssetDefinitionRecord),
		failures: make(map[string]failure),
		calls:    make(map[string]int),
	}
}

// AppendBlocks adds n blocks with txPerBlock committed transactions each and
// returns the new height.
func (l *Ledger) AppendBlocks(n, txPerBlock int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 0; i < n; i++ {
		height := uint64(len(l.blocks)) + 1
		prev := ""
		if height > 1 {
			prev = l.blocks[height-2].Record.Hash
		}
		b := ledger.Block{
			Record: models.BlockRecord{
				Height:            height,
				Hash:              BlockHash(height),
				PrevHash:          prev,
				Timestamp:         time.Unix(1700000000+int64(height), 0).UTC(),
				TransactionHashes: []string{},
			},
		}
		for j := 0; j < txPerBlock; j++ {
			tx := models.TransactionRecord{
				Hash:         TxHash(height, j),
				BlockHeight:  height,
				Index:        j,
				Submitter:    models.AccountID{Name: "alice", Domain: "wonderland"},
				Instructions: []string{fmt.Sprintf("Mint %d rose#wonderland", j+1)},
				Status:       models.TxStatusCommitted,
				CreatedAt:    b.Record.Timestamp,
			}
			b.Record.TransactionHashes = append(b.Record.TransactionHashes, tx.Hash)
			b.Transactions = append(b.Transactions, tx)
			l.txs[tx.Hash] = tx
		}
		l.blocks = append(l.blocks, b)
	}
	return uint64(len(l.blocks))
}

func BlockHash(height uint64) string { return fmt.Sprintf("block-%06d", height) }

func TxHash(height uint64, index int) string { return fmt.Sprintf("tx-%06d-%03d", height, index) }

// PutDomain stores or replaces a domain.
func (l *Ledger) PutDomain(d models.DomainRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.domains[d.ID] = d
}

// PutAccount stores or replaces an account, creating its domain if needed.
func (l *Ledger) PutAccount(a models.AccountRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.domains[a.ID.Domain]; !ok {
		l.domains[a.ID.Domain] = models.DomainRecord{ID: a.ID.Domain}
	}
	l.accounts[a.ID] = a
}

// PutAssetDefinition adds a definition to its domain, creating the domain if needed.
func (l *Ledger) PutAssetDefinition(def models.AssetDefinitionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.domains[def.ID.Domain]; !ok {
		l.domains[def.ID.Domain] = models.DomainRecord{ID: def.ID.Domain}
	}
	defs := l.assets[def.ID.Domain]
	for i := range defs {
		if defs[i].ID == def.ID {
			defs[i] = def
			return
		}
	}
	l.assets[def.ID.Domain] = append(defs, def)
}

func (l *Ledger) SetPeers(peers []models.PeerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers = peers
}

func (l *Ledger) SetRoles(roles []models.RoleRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roles = roles
}

type failure struct {
	n           int
	unavailable bool
}

// FailNext makes the next n calls of op fail with a transport error.
// An op of "*" matches every operation.
func (l *Ledger) FailNext(op string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = failure{n: n}
}

// UnavailableNext is FailNext with the node reporting itself unavailable.
func (l *Ledger) UnavailableNext(op string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = failure{n: n, unavailable: true}
}

// Calls returns how many times op has been invoked.
func (l *Ledger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// enter records the call and returns an injected failure if one is armed.
// It must be called with l.mu held.
func (l *Ledger) enter(ctx context.Context, op string) error {
	l.calls[op]++
	if l.Hook != nil {
		hook := l.Hook
		l.mu.Unlock()
		hook(op)
		l.mu.Lock()
	}
	if err := ctx.Err(); err != nil {
		return &ledger.TransportError{Op: op, Err: err}
	}
	for _, key := range []string{op, "*"} {
		if f := l.failures[key]; f.n > 0 {
			f.n--
			l.failures[key] = f
			return &ledger.TransportError{Op: op, Unavailable: f.unavailable, Err: ErrInjected}
		}
	}
	return nil
}

func notFound(op string) error {
	return fmt.Errorf("ledger %s: %w", op, ledger.ErrNotFound)
}

func (l *Ledger) FetchBlock(ctx context.Context, height uint64) (*ledger.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "fetch block"); err != nil {
		return nil, err
	}
	if height == 0 || height > uint64(len(l.blocks)) {
		return nil, notFound("fetch block")
	}
	b := l.blocks[height-1]
	out := ledger.Block{
		Record:       b.Record,
		Transactions: append([]models.TransactionRecord(nil), b.Transactions...),
	}
	out.Record.TransactionHashes = append([]string(nil), b.Record.TransactionHashes...)
	return &out, nil
}

func (l *Ledger) FetchTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "fetch transaction"); err != nil {
		return nil, err
	}
	tx, ok := l.txs[hash]
	if !ok {
		return nil, notFound("fetch transaction")
	}
	return &tx, nil
}

func (l *Ledger) FetchAccount(ctx context.Context, id models.AccountID) (*models.AccountRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "fetch account"); err != nil {
		return nil, err
	}
	a, ok := l.accounts[id]
	if !ok {
		return nil, notFound("fetch account")
	}
	return &a, nil
}

func (l *Ledger) FetchDomain(ctx context.Context, id string) (*models.DomainRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "fetch domain"); err != nil {
		return nil, err
	}
	d, ok := l.domains[id]
	if !ok {
		return nil, notFound("fetch domain")
	}
	d = l.withCounts(d)
	return &d, nil
}

func (l *Ledger) ListDomains(ctx context.Context) ([]models.DomainRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "list domains"); err != nil {
		return nil, err
	}
	out := make([]models.DomainRecord, 0, len(l.domains))
	for _, d := range l.domains {
		out = append(out, l.withCounts(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Ledger) ListDomainAccounts(ctx context.Context, domain string) ([]models.AccountRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "list domain accounts"); err != nil {
		return nil, err
	}
	if _, ok := l.domains[domain]; !ok {
		return nil, notFound("list domain accounts")
	}
	var out []models.AccountRecord
	for id, a := range l.accounts {
		if id.Domain == domain {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out, nil
}

func (l *Ledger) ListDomainAssets(ctx context.Context, domain string) ([]models.AssetDefinitionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "list domain assets"); err != nil {
		return nil, err
	}
	if _, ok := l.domains[domain]; !ok {
		return nil, notFound("list domain assets")
	}
	return append([]models.AssetDefinitionRecord(nil), l.assets[domain]...), nil
}

func (l *Ledger) CurrentHeight(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "current height"); err != nil {
		return 0, err
	}
	return uint64(len(l.blocks)), nil
}

func (l *Ledger) ListPeers(ctx context.Context) ([]models.PeerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "list peers"); err != nil {
		return nil, err
	}
	return append([]models.PeerRecord(nil), l.peers...), nil
}

func (l *Ledger) ListRoles(ctx context.Context) ([]models.RoleRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "list roles"); err != nil {
		return nil, err
	}
	return append([]models.RoleRecord(nil), l.roles...), nil
}

func (l *Ledger) Status(ctx context.Context) (*models.NodeStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, "status"); err != nil {
		return nil, err
	}
	return &models.NodeStatus{
		Peers:       uint64(len(l.peers)),
		Blocks:      uint64(len(l.blocks)),
		TxsAccepted: uint64(len(l.txs)),
	}, nil
}

func (l *Ledger) withCounts(d models.DomainRecord) models.DomainRecord {
	d.AccountCount = 0
	for id := range l.accounts {
		if id.Domain == d.ID {
			d.AccountCount++
		}
	}
	d.AssetDefinitionCount = len(l.assets[d.ID])
	return d
}

var _ ledger.Client = (*Ledger)(nil)
