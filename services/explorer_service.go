package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-explorer/ledger"
	"ledger-explorer/metrics"
	"ledger-explorer/mirror"
	"ledger-explorer/models"
	"ledger-explorer/pagination"
	"ledger-explorer/workers"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RefreshControl is the part of the refresh scheduler the API needs.
type RefreshControl interface {
	Trigger(class string) error
	Statuses() []workers.WorkerStatus
}

type Options struct {
	Engine pagination.Engine
	// PointRetries is how many times a point lookup is retried after a
	// transport error. The n-th retry waits n*RetryDelay.
	PointRetries int
	RetryDelay   time.Duration
	// ColdFetchTimeout bounds the synchronous populate of an unmirrored domain.
	ColdFetchTimeout time.Duration
	// StreamInterval is how often the block stream polls the mirror.
	StreamInterval time.Duration
}

// ExplorerService answers API queries from the mirror, falling back to the
// ledger for point lookups and cold domains.
type ExplorerService struct {
	Ledger  ledger.Client
	Mirror  *mirror.Mirror
	Refresh RefreshControl
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	opts    Options
	cold    singleflight.Group
	started time.Time
}

func NewExplorerService(l ledger.Client, m *mirror.Mirror, logger *zap.Logger, x *metrics.Metrics, opts Options) *ExplorerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.ColdFetchTimeout <= 0 {
		opts.ColdFetchTimeout = 5 * time.Second
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 2 * time.Second
	}
	if opts.PointRetries < 0 {
		opts.PointRetries = 0
	}
	return &ExplorerService{
		Ledger:  l,
		Mirror:  m,
		Logger:  logger.Named("query"),
		Metrics: x,
		opts:    opts,
		started: time.Now(),
	}
}

// retry runs fn and repeats it after transport errors, PointRetries times.
func retry[T any](ctx context.Context, s *ExplorerService, entity string, fn func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !ledger.IsTransport(err) || attempt > s.opts.PointRetries || ctx.Err() != nil {
			return v, err
		}
		if s.Metrics != nil {
			s.Metrics.LedgerRetries.WithLabelValues(entity).Inc()
		}
		s.Logger.Debug("retrying ledger lookup", zap.String("entity", entity), zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(time.Duration(attempt) * s.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, err
		case <-timer.C:
		}
	}
}

// Block serves a mirrored block or fetches it from the ledger. Blocks
// fetched this way are not appended: the mirror only grows contiguously.
func (s *ExplorerService) Block(ctx context.Context, height uint64) (models.BlockRecord, error) {
	if b, ok := s.Mirror.Block(height); ok {
		return b, nil
	}
	b, err := retry(ctx, s, "block", func(ctx context.Context) (*ledger.Block, error) {
		return s.Ledger.FetchBlock(ctx, height)
	})
	if err != nil {
		return models.BlockRecord{}, err
	}
	return b.Record, nil
}

// Transaction serves a mirrored transaction or fetches it from the ledger.
func (s *ExplorerService) Transaction(ctx context.Context, hash string) (models.TransactionRecord, error) {
	if tx, ok := s.Mirror.Transaction(hash); ok {
		return tx, nil
	}
	tx, err := retry(ctx, s, "transaction", func(ctx context.Context) (*models.TransactionRecord, error) {
		return s.Ledger.FetchTransaction(ctx, hash)
	})
	if err != nil {
		return models.TransactionRecord{}, err
	}
	return *tx, nil
}

// Account serves the mirrored snapshot, or fetches the account and writes it
// back stamped with the watermark seen before the fetch. A failed fetch
// leaves the mirror untouched.
func (s *ExplorerService) Account(ctx context.Context, id models.AccountID) (mirror.Snapshot[models.AccountRecord], error) {
	if snap, ok := s.Mirror.Account(id); ok {
		return snap, nil
	}
	at := s.Mirror.Watermark()
	rec, err := retry(ctx, s, "account", func(ctx context.Context) (*models.AccountRecord, error) {
		return s.Ledger.FetchAccount(ctx, id)
	})
	if err != nil {
		return mirror.Snapshot[models.AccountRecord]{}, err
	}
	s.Mirror.PutAccount(*rec, at)
	return s.latestAccount(id, *rec, at), nil
}

func (s *ExplorerService) latestAccount(id models.AccountID, rec models.AccountRecord, at uint64) mirror.Snapshot[models.AccountRecord] {
	// A concurrent refresh may have stored a fresher snapshot meanwhile.
	if snap, ok := s.Mirror.Account(id); ok && snap.Watermark >= at {
		return snap
	}
	return mirror.Snapshot[models.AccountRecord]{Value: rec, Watermark: at, FetchedAt: time.Now().UTC()}
}

// Domain serves the mirrored snapshot or fetches and writes it back.
func (s *ExplorerService) Domain(ctx context.Context, id string) (mirror.Snapshot[models.DomainRecord], error) {
	if snap, ok := s.Mirror.Domain(id); ok {
		return snap, nil
	}
	at := s.Mirror.Watermark()
	rec, err := retry(ctx, s, "domain", func(ctx context.Context) (*models.DomainRecord, error) {
		return s.Ledger.FetchDomain(ctx, id)
	})
	if err != nil {
		return mirror.Snapshot[models.DomainRecord]{}, err
	}
	s.Mirror.PutDomain(*rec, at)
	if snap, ok := s.Mirror.Domain(id); ok {
		return snap, nil
	}
	return mirror.Snapshot[models.DomainRecord]{Value: *rec, Watermark: at, FetchedAt: time.Now().UTC()}, nil
}

// AssetDefinition serves a mirrored definition. On a miss the definitions of
// its domain are fetched and written back together.
func (s *ExplorerService) AssetDefinition(ctx context.Context, id models.AssetDefinitionID) (mirror.Snapshot[models.AssetDefinitionRecord], error) {
	if snap, ok := s.Mirror.AssetDefinition(id); ok {
		return snap, nil
	}
	at := s.Mirror.Watermark()
	defs, err := retry(ctx, s, "asset_definition", func(ctx context.Context) ([]models.AssetDefinitionRecord, error) {
		return s.Ledger.ListDomainAssets(ctx, id.Domain)
	})
	if err != nil {
		return mirror.Snapshot[models.AssetDefinitionRecord]{}, err
	}
	for _, d := range defs {
		s.Mirror.PutAssetDefinition(d, at)
	}
	if snap, ok := s.Mirror.AssetDefinition(id); ok {
		return snap, nil
	}
	return mirror.Snapshot[models.AssetDefinitionRecord]{}, fmt.Errorf("asset definition %s: %w", id, ledger.ErrNotFound)
}

// Peers is read live: the peer set is tiny and not part of the mirror.
func (s *ExplorerService) Peers(ctx context.Context) ([]models.PeerRecord, error) {
	return retry(ctx, s, "peers", s.Ledger.ListPeers)
}

// Asset reads one holding out of its account's snapshot, fetching the
// account on a miss.
func (s *ExplorerService) Asset(ctx context.Context, def models.AssetDefinitionID, account models.AccountID) (mirror.Snapshot[models.AssetRecord], error) {
	snap, err := s.Account(ctx, account)
	if err != nil {
		return mirror.Snapshot[models.AssetRecord]{}, err
	}
	for _, a := range snap.Value.Assets {
		if a.DefinitionID == def {
			return mirror.Snapshot[models.AssetRecord]{Value: a, Watermark: snap.Watermark, FetchedAt: snap.FetchedAt}, nil
		}
	}
	return mirror.Snapshot[models.AssetRecord]{}, fmt.Errorf("asset %s of %s: %w", def, account, ledger.ErrNotFound)
}

// Roles is read live like peers.
func (s *ExplorerService) Roles(ctx context.Context) ([]models.RoleRecord, error) {
	return retry(ctx, s, "roles", s.Ledger.ListRoles)
}

// BlockTransactions lists the transactions of one block. Mirrored blocks are
// paginated; a block outside the mirrored window is fetched and returned
// whole, since a single block is bounded.
func (s *ExplorerService) BlockTransactions(ctx context.Context, height uint64, q pagination.Query, cursor string) (pagination.Page[models.TransactionRecord], error) {
	floor, watermark := s.Mirror.Range()
	if height >= floor && height <= watermark {
		return s.Transactions(pagination.TxFilter{Height: height}, q, cursor)
	}
	if cursor != "" {
		return pagination.Page[models.TransactionRecord]{}, fmt.Errorf("%w: block %d is no longer mirrored", pagination.ErrStaleCursor, height)
	}
	b, err := retry(ctx, s, "block", func(ctx context.Context) (*ledger.Block, error) {
		return s.Ledger.FetchBlock(ctx, height)
	})
	if err != nil {
		return pagination.Page[models.TransactionRecord]{}, err
	}
	items := b.Transactions
	if items == nil {
		items = []models.TransactionRecord{}
	}
	return pagination.Page[models.TransactionRecord]{Items: items, Watermark: watermark}, nil
}

func listPage[T any](s *ExplorerService, c pagination.Collection[T], q pagination.Query, cursor string) (pagination.Page[T], error) {
	if cursor == "" {
		return pagination.FirstPage(s.opts.Engine, s.Mirror, c, q)
	}
	return pagination.NextPage(s.opts.Engine, s.Mirror, c, q, cursor)
}

func (s *ExplorerService) Blocks(q pagination.Query, cursor string) (pagination.Page[models.BlockRecord], error) {
	return listPage(s, pagination.Blocks(s.Mirror), q, cursor)
}

func (s *ExplorerService) Transactions(f pagination.TxFilter, q pagination.Query, cursor string) (pagination.Page[models.TransactionRecord], error) {
	return listPage(s, pagination.Transactions(s.Mirror, f), q, cursor)
}

func (s *ExplorerService) Accounts(q pagination.Query, cursor string) (pagination.Page[models.AccountRecord], error) {
	return listPage(s, pagination.Accounts(s.Mirror, ""), q, cursor)
}

// AssetDefinitions lists the mirrored definitions of every domain.
func (s *ExplorerService) AssetDefinitions(q pagination.Query, cursor string) (pagination.Page[models.AssetDefinitionRecord], error) {
	return listPage(s, pagination.AssetDefinitions(s.Mirror, ""), q, cursor)
}

func (s *ExplorerService) Assets(q pagination.Query, cursor string) (pagination.Page[models.AssetRecord], error) {
	return listPage(s, pagination.Assets(s.Mirror), q, cursor)
}

// Domains lists mirrored domains, populating the list first if the mirror
// has never seen one.
func (s *ExplorerService) Domains(ctx context.Context, q pagination.Query, cursor string) (pagination.Page[models.DomainRecord], error) {
	if cursor == "" && len(s.Mirror.Domains()) == 0 {
		if err := s.populate(ctx, "domains", s.populateDomains); err != nil {
			return pagination.Page[models.DomainRecord]{}, err
		}
	}
	return listPage(s, pagination.Domains(s.Mirror), q, cursor)
}

func (s *ExplorerService) DomainAccounts(ctx context.Context, domain string, q pagination.Query, cursor string) (pagination.Page[models.AccountRecord], error) {
	if err := s.ensureDomain(ctx, domain, cursor); err != nil {
		return pagination.Page[models.AccountRecord]{}, err
	}
	return listPage(s, pagination.Accounts(s.Mirror, domain), q, cursor)
}

func (s *ExplorerService) DomainAssets(ctx context.Context, domain string, q pagination.Query, cursor string) (pagination.Page[models.AssetDefinitionRecord], error) {
	if err := s.ensureDomain(ctx, domain, cursor); err != nil {
		return pagination.Page[models.AssetDefinitionRecord]{}, err
	}
	return listPage(s, pagination.AssetDefinitions(s.Mirror, domain), q, cursor)
}

// ensureDomain populates an unmirrored domain before its first page. Only a
// definitive "no such domain" is reported; transport failures are logged and
// the listing is served from whatever arrived.
func (s *ExplorerService) ensureDomain(ctx context.Context, domain, cursor string) error {
	if cursor != "" {
		return nil
	}
	if _, ok := s.Mirror.Domain(domain); ok {
		return nil
	}
	return s.populate(ctx, "domain:"+domain, func(ctx context.Context) error {
		return s.populateDomain(ctx, domain)
	})
}

// populate runs fn once per key across concurrent callers, detached from the
// caller's cancellation but bounded by ColdFetchTimeout.
func (s *ExplorerService) populate(ctx context.Context, key string, fn func(context.Context) error) error {
	ch := s.cold.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ColdFetchTimeout)
		defer cancel()
		return nil, fn(fetchCtx)
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		return ctx.Err()
	}

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
		s.Logger.Warn("cold fetch incomplete, serving partial result", zap.String("key", key), zap.Error(err))
	}
	if s.Metrics != nil {
		s.Metrics.ColdFetches.WithLabelValues(result).Inc()
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	return nil
}

func (s *ExplorerService) populateDomains(ctx context.Context) error {
	at := s.Mirror.Watermark()
	domains, err := s.Ledger.ListDomains(ctx)
	if err != nil {
		return err
	}
	for _, d := range domains {
		s.Mirror.PutDomain(d, at)
	}
	return nil
}

// populateDomain writes accounts and definitions as they arrive and the
// domain itself last, so an interrupted populate is retried by the next
// request instead of being mistaken for a warm domain.
func (s *ExplorerService) populateDomain(ctx context.Context, domain string) error {
	at := s.Mirror.Watermark()
	d, err := s.Ledger.FetchDomain(ctx, domain)
	if err != nil {
		return err
	}
	defs, err := s.Ledger.ListDomainAssets(ctx, domain)
	if err != nil {
		return err
	}
	for _, def := range defs {
		s.Mirror.PutAssetDefinition(def, at)
	}
	accounts, err := s.Ledger.ListDomainAccounts(ctx, domain)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		s.Mirror.PutAccount(a, at)
	}
	s.Mirror.PutDomain(*d, at)
	return nil
}

// StatusReport is served by the status endpoint.
type StatusReport struct {
	Mirror        mirror.Stats           `json:"mirror"`
	Refresh       []workers.WorkerStatus `json:"refresh"`
	Node          *models.NodeStatus     `json:"node,omitempty"`
	NodeError     string                 `json:"node_error,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
}

// Status never fails: an unreachable node is reported in NodeError.
func (s *ExplorerService) Status(ctx context.Context) StatusReport {
	report := StatusReport{
		Mirror:        s.Mirror.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.Refresh != nil {
		report.Refresh = s.Refresh.Statuses()
	}
	node, err := s.Ledger.Status(ctx)
	if err != nil {
		report.NodeError = err.Error()
	} else {
		report.Node = node
	}
	return report
}

// Invalidate drops the keyed snapshots of domain (every domain when empty)
// and asks the scheduler to refill them.
func (s *ExplorerService) Invalidate(domain string) uint64 {
	if domain == "" {
		s.Mirror.InvalidateAll()
	} else {
		s.Mirror.Invalidate(domain)
	}
	s.Logger.Info("snapshots invalidated", zap.String("domain", domain), zap.Uint64("epoch", s.Mirror.Epoch()))
	if s.Refresh != nil {
		for _, class := range []string{"domains", "accounts"} {
			if err := s.Refresh.Trigger(class); err != nil {
				s.Logger.Debug("refresh trigger skipped", zap.String("class", class), zap.Error(err))
			}
		}
	}
	return s.Mirror.Epoch()
}
