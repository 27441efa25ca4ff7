package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/core/events"
)

// BorrowToRebalance borrows amount more against the existing collateral and
// pays it to receiver. It only applies while the health factor is above
// target and fails if the result would drop below the minimum. The
// resulting health factor is returned.
func (a *Adapter) BorrowToRebalance(ctx context.Context, caller common.Address, amount *big.Int, receiver common.Address) (*big.Int, error) {
	var result *big.Int
	err := a.execute(ctx, "borrow_to_rebalance", caller, operatorOnly, func(c *call) error {
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if a.state != StateOpen {
			return ErrPositionNotOpen
		}
		if err := a.refreshLocked(c.ctx); err != nil {
			return err
		}
		before, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		hfBefore := healthFactor(before)
		if hfBefore.Cmp(c.factors.target18()) <= 0 {
			return fmt.Errorf("%w: health factor %s not above target %d", ErrRebalanceNotApplicable, hfBefore, c.factors.Target)
		}

		p := a.position
		if err := a.protocol.Borrow(c.ctx, a.address, p.BorrowAsset, amount); err != nil {
			return wrapStep("borrow", err)
		}
		if err := a.ledger.Transfer(p.BorrowAsset, a.address, receiver, amount); err != nil {
			return wrapStep("transfer borrowed", err)
		}
		after, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		result = healthFactor(after)
		if result.Cmp(c.factors.min18()) < 0 {
			return fmt.Errorf("%w: %s below min %d", ErrUnsafeHealthFactor, result, c.factors.Min)
		}
		c.emit(events.PositionRebalanced{
			OpID:               c.opID,
			Direction:          "borrow",
			Adapter:            a.address,
			Amount:             new(big.Int).Set(amount),
			HealthFactorBefore: hfBefore,
			HealthFactorAfter:  result,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RepayToRebalance lifts a health factor that fell below target, either by
// repaying amount of debt with borrow asset the adapter holds or, with
// useCollateral set, by supplying amount of extra collateral. The result
// must be at least the minimum and, when an overshoot allowance is
// configured, at most Max plus that allowance. The resulting health factor
// is returned.
func (a *Adapter) RepayToRebalance(ctx context.Context, caller common.Address, amount *big.Int, useCollateral bool) (*big.Int, error) {
	var result *big.Int
	err := a.execute(ctx, "repay_to_rebalance", caller, operatorOnly, func(c *call) error {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if a.state != StateOpen {
			return ErrPositionNotOpen
		}
		if err := a.refreshLocked(c.ctx); err != nil {
			return err
		}
		before, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		hfBefore := healthFactor(before)
		if hfBefore.Cmp(c.factors.target18()) >= 0 {
			return fmt.Errorf("%w: health factor %s not below target %d", ErrRebalanceNotApplicable, hfBefore, c.factors.Target)
		}

		p := a.position
		direction := "repay"
		if useCollateral {
			direction = "supply"
			held := a.ledger.BalanceOf(p.CollateralAsset, a.address)
			if held.Cmp(amount) != 0 {
				return fmt.Errorf("%w: holds %s collateral, expected %s", ErrUnexpectedTransferAmount, held, amount)
			}
			if err := a.supplyLocked(c.ctx, amount); err != nil {
				return err
			}
		} else {
			if amount.Cmp(before.AmountToPay) > 0 {
				return fmt.Errorf("%w: repaying %s exceeds debt %s", ErrRebalanceNotApplicable, amount, before.AmountToPay)
			}
			held := a.ledger.BalanceOf(p.BorrowAsset, a.address)
			if held.Cmp(amount) != 0 {
				return fmt.Errorf("%w: holds %s, expected %s", ErrUnexpectedTransferAmount, held, amount)
			}
			if _, err := a.protocol.Repay(c.ctx, a.address, p.BorrowAsset, amount); err != nil {
				return wrapStep("repay", err)
			}
		}

		after, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		result = healthFactor(after)
		if result.Cmp(c.factors.min18()) < 0 {
			return fmt.Errorf("%w: %s below min %d", ErrUnsafeHealthFactor, result, c.factors.Min)
		}
		if ceiling := c.factors.ceiling18(); ceiling != nil && result.Cmp(ceiling) > 0 {
			return fmt.Errorf("%w: %s overshoots max %d", ErrUnsafeHealthFactor, result, c.factors.Max)
		}
		c.emit(events.PositionRebalanced{
			OpID:               c.opID,
			Direction:          direction,
			Adapter:            a.address,
			Amount:             new(big.Int).Set(amount),
			HealthFactorBefore: hfBefore,
			HealthFactorAfter:  result,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
