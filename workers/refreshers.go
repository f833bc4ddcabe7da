// workers/refreshers.go
package workers

import (
	"context"
	"errors"
	"fmt"

	"ledger-explorer/ledger"
	"ledger-explorer/mirror"
	"ledger-explorer/models"

	"go.uber.org/zap"
)

// BlockRefresher appends blocks above the watermark, BatchSize per cycle.
type BlockRefresher struct {
	Ledger    ledger.Client
	Mirror    *mirror.Mirror
	BatchSize int
}

func (r *BlockRefresher) Class() string { return "blocks" }

func (r *BlockRefresher) Fetch(ctx context.Context) (ApplyFunc, error) {
	watermark := r.Mirror.Watermark()
	head, err := r.Ledger.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}
	if head < watermark {
		return nil, fmt.Errorf("ledger height %d is below watermark %d: %w", head, watermark, mirror.ErrNonMonotonicWatermark)
	}
	if head == watermark {
		return nil, nil
	}

	batch := uint64(r.BatchSize)
	if batch == 0 {
		batch = 50
	}
	to := min(head, watermark+batch)

	var fetched []*ledger.Block
	var fetchErr error
	for h := watermark + 1; h <= to; h++ {
		b, err := r.Ledger.FetchBlock(ctx, h)
		if err != nil {
			fetchErr = err
			break
		}
		fetched = append(fetched, b)
	}
	if len(fetched) == 0 {
		return nil, fetchErr
	}

	return func() (int, error) {
		for i, b := range fetched {
			if err := r.Mirror.ApplyBlock(b.Record, b.Transactions); err != nil {
				return i, err
			}
			if err := r.Mirror.AdvanceWatermark(b.Record.Height); err != nil {
				return i, err
			}
		}
		return len(fetched), nil
	}, fetchErr
}

// DomainRefresher mirrors every domain together with its asset definitions.
type DomainRefresher struct {
	Ledger ledger.Client
	Mirror *mirror.Mirror
}

func (r *DomainRefresher) Class() string { return "domains" }

func (r *DomainRefresher) Fetch(ctx context.Context) (ApplyFunc, error) {
	// Snapshots are stamped with the watermark seen before the ledger call.
	at := r.Mirror.Watermark()

	domains, err := r.Ledger.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	defs := make(map[string][]models.AssetDefinitionRecord, len(domains))
	var fetchErr error
	for _, d := range domains {
		list, err := r.Ledger.ListDomainAssets(ctx, d.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue // removed between the two calls
		}
		if err != nil {
			fetchErr = err
			break
		}
		defs[d.ID] = list
	}

	return func() (int, error) {
		n := 0
		for _, d := range domains {
			list, ok := defs[d.ID]
			if !ok {
				// A mirrored domain is taken as warm, so it waits for its definitions.
				continue
			}
			for _, def := range list {
				if r.Mirror.PutAssetDefinition(def, at) {
					n++
				}
			}
			if r.Mirror.PutDomain(d, at) {
				n++
			}
		}
		return n, nil
	}, fetchErr
}

// AccountRefresher re-reads the accounts of every mirrored domain.
type AccountRefresher struct {
	Ledger ledger.Client
	Mirror *mirror.Mirror
	Logger *zap.Logger
}

func (r *AccountRefresher) Class() string { return "accounts" }

func (r *AccountRefresher) Fetch(ctx context.Context) (ApplyFunc, error) {
	at := r.Mirror.Watermark()
	domains := r.Mirror.Domains()
	if len(domains) == 0 {
		return nil, nil
	}

	var accounts []models.AccountRecord
	var fetchErr error
	for _, d := range domains {
		list, err := r.Ledger.ListDomainAccounts(ctx, d.Value.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			if r.Logger != nil {
				r.Logger.Debug("mirrored domain no longer exists", zap.String("domain", d.Value.ID))
			}
			continue
		}
		if err != nil {
			fetchErr = err
			break
		}
		accounts = append(accounts, list...)
	}

	return func() (int, error) {
		n := 0
		for _, a := range accounts {
			if r.Mirror.PutAccount(a, at) {
				n++
			}
		}
		return n, nil
	}, fetchErr
}
