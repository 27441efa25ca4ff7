package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/core/events"
)

// Borrow opens the position: it supplies collateralAmount of collateral the
// adapter already holds, borrows borrowAmount and pays it to receiver. The
// resulting health factor must reach the configured minimum. Growing an open
// position goes through BorrowToRebalance instead.
func (a *Adapter) Borrow(ctx context.Context, caller common.Address, collateralAmount, borrowAmount *big.Int, receiver common.Address) (*big.Int, error) {
	err := a.execute(ctx, "borrow", caller, operatorOnly, func(c *call) error {
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if collateralAmount == nil || collateralAmount.Sign() <= 0 || borrowAmount == nil || borrowAmount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if a.state == StateOpen {
			return ErrPositionAlreadyOpen
		}
		p := a.position
		held := a.ledger.BalanceOf(p.CollateralAsset, a.address)
		if held.Cmp(collateralAmount) != 0 {
			return fmt.Errorf("%w: holds %s collateral, expected %s", ErrUnexpectedTransferAmount, held, collateralAmount)
		}

		if err := a.protocol.Prepare(c.ctx, a.address, p.CollateralAsset, p.BorrowAsset); err != nil {
			return wrapStep("prepare", err)
		}
		if err := a.supplyLocked(c.ctx, collateralAmount); err != nil {
			return err
		}
		if err := a.protocol.Borrow(c.ctx, a.address, p.BorrowAsset, borrowAmount); err != nil {
			return wrapStep("borrow", err)
		}
		if err := a.ledger.Transfer(p.BorrowAsset, a.address, receiver, borrowAmount); err != nil {
			return wrapStep("transfer borrowed", err)
		}

		values, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		hf := healthFactor(values)
		if hf.Cmp(c.factors.min18()) < 0 {
			return fmt.Errorf("%w: %s below min %d", ErrUnsafeHealthFactor, hf, c.factors.Min)
		}
		a.state = StateOpen
		c.emit(events.PositionOpened{
			OpID:             c.opID,
			Adapter:          a.address,
			User:             p.User,
			Receiver:         receiver,
			CollateralAmount: new(big.Int).Set(collateralAmount),
			BorrowAmount:     new(big.Int).Set(borrowAmount),
			HealthFactor:     hf,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(borrowAmount), nil
}

// Repay pays down debt with the borrow asset the adapter holds, which must
// equal amountToRepay exactly. Anything above the outstanding debt goes back
// to receiver. With closePosition set the debt must reach zero, all
// collateral is withdrawn to receiver and the position closes; the returned
// value is the collateral released.
func (a *Adapter) Repay(ctx context.Context, caller common.Address, amountToRepay *big.Int, receiver common.Address, closePosition bool) (*big.Int, error) {
	returned := big.NewInt(0)
	err := a.execute(ctx, "repay", caller, operatorOrUser, func(c *call) error {
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if amountToRepay == nil || amountToRepay.Sign() < 0 {
			return ErrInvalidAmount
		}
		if a.state != StateOpen {
			return ErrPositionNotOpen
		}
		p := a.position
		held := a.ledger.BalanceOf(p.BorrowAsset, a.address)
		if held.Cmp(amountToRepay) != 0 {
			return fmt.Errorf("%w: holds %s, expected %s", ErrUnexpectedTransferAmount, held, amountToRepay)
		}
		if err := a.refreshLocked(c.ctx); err != nil {
			return err
		}
		before, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		debt := before.AmountToPay
		if closePosition && amountToRepay.Cmp(debt) < 0 {
			return fmt.Errorf("%w: repaying %s of %s", ErrClosePositionDenied, amountToRepay, debt)
		}
		if amountToRepay.Sign() == 0 && !closePosition {
			return ErrInvalidAmount
		}

		repaid := big.NewInt(0)
		if amountToRepay.Sign() > 0 && debt.Sign() > 0 {
			repaid, err = a.protocol.Repay(c.ctx, a.address, p.BorrowAsset, minBig(amountToRepay, debt))
			if err != nil {
				return wrapStep("repay", err)
			}
		}
		refund := subFloor(amountToRepay, repaid)
		if refund.Sign() > 0 {
			if err := a.ledger.Transfer(p.BorrowAsset, a.address, receiver, refund); err != nil {
				return wrapStep("refund", err)
			}
		}

		if closePosition {
			after, err := a.accountLocked(c.ctx)
			if err != nil {
				return err
			}
			if after.AmountToPay.Sign() > 0 {
				return fmt.Errorf("%w: %s still owed", ErrClosePositionDenied, after.AmountToPay)
			}
			released, err := a.protocol.WithdrawAll(c.ctx, a.address, p.CollateralAsset)
			if err != nil {
				return wrapStep("withdraw", err)
			}
			if released.Sign() > 0 {
				if err := a.ledger.Transfer(p.CollateralAsset, a.address, receiver, released); err != nil {
					return wrapStep("transfer collateral", err)
				}
			}
			returned = released
			a.collateralTokens = big.NewInt(0)
			a.state = StateClosed
		}
		c.emit(events.PositionRepaid{
			OpID:               c.opID,
			Adapter:            a.address,
			Caller:             caller,
			Receiver:           receiver,
			Repaid:             repaid,
			Refunded:           refund,
			CollateralReturned: returned,
			Closed:             closePosition,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneBig(returned), nil
}

// supplyLocked supplies collateral and grows the ledger by the token delta
// the market reports.
func (a *Adapter) supplyLocked(ctx context.Context, amount *big.Int) error {
	before, err := a.accountLocked(ctx)
	if err != nil {
		return err
	}
	if err := a.protocol.Supply(ctx, a.address, a.position.CollateralAsset, amount); err != nil {
		return wrapStep("supply", err)
	}
	after, err := a.accountLocked(ctx)
	if err != nil {
		return err
	}
	a.collateralTokens = new(big.Int).Add(a.collateralTokens, subFloor(after.CollateralTokens, before.CollateralTokens))
	return nil
}
