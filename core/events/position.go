package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/core/types"
)

const (
	// TypePositionOpened is emitted when a borrow opens a position.
	TypePositionOpened = "position.opened"
	// TypePositionRepaid is emitted for partial repayments.
	TypePositionRepaid = "position.repaid"
	// TypePositionClosed is emitted when a repay closes a position.
	TypePositionClosed = "position.closed"
	// TypePositionRebalanced is emitted after either rebalance direction.
	TypePositionRebalanced = "position.rebalanced"
	// TypePositionLiquidated is emitted when a status refresh finds collateral
	// seized outside the adapter.
	TypePositionLiquidated = "position.liquidated"
	// TypePositionRewardsClaimed is emitted after a rewards pass-through.
	TypePositionRewardsClaimed = "position.rewards_claimed"
)

type PositionOpened struct {
	OpID             string
	Adapter          common.Address
	User             common.Address
	Receiver         common.Address
	CollateralAmount *big.Int
	BorrowAmount     *big.Int
	HealthFactor     *big.Int
}

func (PositionOpened) EventType() string { return TypePositionOpened }

func (e PositionOpened) Event() *types.Event {
	return types.NewEvent(TypePositionOpened).
		Set("opId", e.OpID).
		Set("adapter", e.Adapter.Hex()).
		Set("user", e.User.Hex()).
		Set("receiver", e.Receiver.Hex()).
		Set("collateralAmount", amountString(e.CollateralAmount)).
		Set("borrowAmount", amountString(e.BorrowAmount)).
		Set("healthFactor", amountString(e.HealthFactor))
}

// PositionRepaid covers both partial repayments and closes; Closed selects
// the event type.
type PositionRepaid struct {
	OpID               string
	Adapter            common.Address
	Caller             common.Address
	Receiver           common.Address
	Repaid             *big.Int
	Refunded           *big.Int
	CollateralReturned *big.Int
	Closed             bool
}

func (e PositionRepaid) EventType() string {
	if e.Closed {
		return TypePositionClosed
	}
	return TypePositionRepaid
}

func (e PositionRepaid) Event() *types.Event {
	return types.NewEvent(e.EventType()).
		Set("opId", e.OpID).
		Set("adapter", e.Adapter.Hex()).
		Set("caller", e.Caller.Hex()).
		Set("receiver", e.Receiver.Hex()).
		Set("repaid", amountString(e.Repaid)).
		Set("refunded", amountString(e.Refunded)).
		Set("collateralReturned", amountString(e.CollateralReturned))
}

type PositionRebalanced struct {
	OpID string
	// Direction is "borrow", "repay" or "supply".
	Direction          string
	Adapter            common.Address
	Amount             *big.Int
	HealthFactorBefore *big.Int
	HealthFactorAfter  *big.Int
}

func (PositionRebalanced) EventType() string { return TypePositionRebalanced }

func (e PositionRebalanced) Event() *types.Event {
	return types.NewEvent(TypePositionRebalanced).
		Set("opId", e.OpID).
		Set("direction", e.Direction).
		Set("adapter", e.Adapter.Hex()).
		Set("amount", amountString(e.Amount)).
		Set("healthFactorBefore", amountString(e.HealthFactorBefore)).
		Set("healthFactorAfter", amountString(e.HealthFactorAfter))
}

type PositionLiquidated struct {
	OpID             string
	Adapter          common.Address
	LiquidatedTokens *big.Int
	LiquidatedAmount *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return types.NewEvent(TypePositionLiquidated).
		Set("opId", e.OpID).
		Set("adapter", e.Adapter.Hex()).
		Set("liquidatedTokens", amountString(e.LiquidatedTokens)).
		Set("liquidatedAmount", amountString(e.LiquidatedAmount))
}

type PositionRewardsClaimed struct {
	OpID     string
	Adapter  common.Address
	Receiver common.Address
	Token    common.Address
	Amount   *big.Int
}

func (PositionRewardsClaimed) EventType() string { return TypePositionRewardsClaimed }

func (e PositionRewardsClaimed) Event() *types.Event {
	token := ""
	if e.Token != (common.Address{}) {
		token = e.Token.Hex()
	}
	return types.NewEvent(TypePositionRewardsClaimed).
		Set("opId", e.OpID).
		Set("adapter", e.Adapter.Hex()).
		Set("receiver", e.Receiver.Hex()).
		Set("token", token).
		Set("amount", amountString(e.Amount))
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
