package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "rwalend/native/common"
	"rwalend/native/lending"
)

// AccountSource lists the accounts that hold a position.
type AccountSource interface {
	PositionAccounts() ([]common.Address, error)
}

// Pool is the slice of the lending engine the keeper drives.
type Pool interface {
	RefreshReserveState() error
	Liquidation(account common.Address) (lending.LiquidationPhase, *lending.LiquidationRecord, error)
	InitiateLiquidation(account common.Address) (*uint256.Int, error)
}

// Result summarises one scan.
type Result struct {
	Scanned   int
	Initiated []common.Address
	// Expired lists accounts whose grace period has run out and await
	// finalization by the liquidation authority.
	Expired []common.Address
}

// Keeper periodically accrues the reserve and opens liquidations for
// accounts whose health factor fell below the threshold.
type Keeper struct {
	accounts AccountSource
	pool     Pool
	interval time.Duration
	logger   *slog.Logger
	once     sync.Once
}

// New returns a keeper scanning every interval.
func New(accounts AccountSource, pool Pool, interval time.Duration, logger *slog.Logger) (*Keeper, error) {
	if accounts == nil || pool == nil {
		return nil, fmt.Errorf("keeper: account source and pool required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("keeper: interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{accounts: accounts, pool: pool, interval: interval, logger: logger}, nil
}

// Run blocks, scanning until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("liquidation keeper started", "interval", k.interval.String())
	})
	for {
		result, err := k.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("keeper tick failed", "error", err)
		} else if len(result.Initiated) > 0 || len(result.Expired) > 0 {
			k.logger.Info("keeper tick",
				"scanned", result.Scanned,
				"initiated", len(result.Initiated),
				"expired", len(result.Expired))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single scan over all position holders.
func (k *Keeper) Tick(ctx context.Context) (Result, error) {
	var result Result
	if err := k.pool.RefreshReserveState(); err != nil {
		if errors.Is(err, nativecommon.ErrModulePaused) {
			return result, nil
		}
		return result, fmt.Errorf("refresh reserve: %w", err)
	}
	accounts, err := k.accounts.PositionAccounts()
	if err != nil {
		return result, fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		phase, _, err := k.pool.Liquidation(account)
		if err != nil {
			return result, fmt.Errorf("load liquidation %s: %w", account.Hex(), err)
		}
		switch phase {
		case lending.PhaseGraceExpired:
			result.Expired = append(result.Expired, account)
			continue
		case lending.PhaseUnderLiquidation:
			continue
		}
		_, err = k.pool.InitiateLiquidation(account)
		switch {
		case err == nil:
			result.Initiated = append(result.Initiated, account)
		case errors.Is(err, lending.ErrHealthFactorSufficient),
			errors.Is(err, lending.ErrAlreadyUnderLiquidation):
		case errors.Is(err, lending.ErrStalePriceOrZero):
			k.logger.Warn("keeper skipped account without fresh prices", "account", account.Hex())
		case errors.Is(err, nativecommon.ErrModulePaused):
			return result, nil
		default:
			return result, fmt.Errorf("initiate %s: %w", account.Hex(), err)
		}
	}
	return result, nil
}
