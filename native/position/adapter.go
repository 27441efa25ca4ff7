package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendkeeper/core/events"
	nativecommon "lendkeeper/native/common"
	"lendkeeper/native/moneymarket"
	"lendkeeper/observability"
)

// AdapterConfig wires an adapter to its market and infrastructure. Journal,
// Store, Emitter and Logger are optional.
type AdapterConfig struct {
	Address  common.Address
	Protocol Protocol
	Ledger   moneymarket.TokenLedger
	Journal  Journal
	Store    *Store
	Emitter  events.Emitter
	Logger   *slog.Logger
}

// Adapter owns one borrow position on one market. Every mutating call is
// all-or-nothing: a failure reverts the market through the Journal and
// restores the adapter's own ledger and state.
type Adapter struct {
	mu sync.Mutex

	address  common.Address
	protocol Protocol
	ledger   moneymarket.TokenLedger
	journal  Journal
	store    *Store
	emitter  events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer

	initialized bool
	position    Position
	state       State
	// collateralTokens only moves by the balance delta observed around the
	// adapter's own supplies, so collateral seized by a liquidation shows up
	// as a shortfall against the live balance.
	collateralTokens *big.Int
}

// NewAdapter constructs an uninitialised adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.Protocol == nil || cfg.Ledger == nil {
		return nil, errors.New("position: protocol and ledger required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		address:          cfg.Address,
		protocol:         cfg.Protocol,
		ledger:           cfg.Ledger,
		journal:          cfg.Journal,
		store:            cfg.Store,
		emitter:          emitter,
		logger:           logger.With("component", "position", "adapter", cfg.Address.Hex(), "protocol", string(cfg.Protocol.Kind())),
		tracer:           otel.Tracer("lendkeeper/position"),
		collateralTokens: big.NewInt(0),
	}, nil
}

// Initialize fixes the position parameters. It succeeds exactly once.
func (a *Adapter) Initialize(p Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return ErrAlreadyInitialized
	}
	if err := p.validate(); err != nil {
		return err
	}
	a.position = p
	a.initialized = true
	a.state = StateUninitialized
	if err := a.persistLocked(); err != nil {
		a.initialized = false
		a.position = Position{}
		return err
	}
	return nil
}

// Address returns the adapter's account on the market.
func (a *Adapter) Address() common.Address { return a.address }

// Kind reports the protocol family.
func (a *Adapter) Kind() Kind { return a.protocol.Kind() }

// Position returns the immutable position parameters.
func (a *Adapter) Position() Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// State returns the lifecycle stage.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CollateralTokens returns the adapter's ledger of supplied collateral
// tokens.
func (a *Adapter) CollateralTokens() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneBig(a.collateralTokens)
}

// ComputePlan sizes a borrow for the adapter's own asset pair.
func (a *Adapter) ComputePlan(ctx context.Context, collateralAmount *big.Int, healthFactor2 uint16, horizonBlocks uint64) (ConversionPlan, error) {
	p := a.Position()
	if p.Controller == nil {
		return ConversionPlan{}, ErrNotInitialized
	}
	return a.protocol.ComputePlan(ctx, PlanRequest{
		CollateralAsset:  p.CollateralAsset,
		CollateralAmount: collateralAmount,
		BorrowAsset:      p.BorrowAsset,
		HealthFactor2:    healthFactor2,
		HorizonBlocks:    horizonBlocks,
	})
}

// GetStatus reads the position without changing anything.
func (a *Adapter) GetStatus(ctx context.Context) (Status, error) {
	ctx, span := a.tracer.Start(ctx, "position.get_status", trace.WithAttributes(
		attribute.String("position.adapter", a.address.Hex()),
	))
	defer span.End()
	if a.journal != nil {
		a.journal.Lock()
		defer a.journal.Unlock()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return Status{}, ErrNotInitialized
	}
	values, err := a.accountLocked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Status{}, err
	}
	return a.statusLocked(values), nil
}

// UpdateStatus accrues pending interest, reports any collateral seized since
// the last reconciliation and lowers the ledger to the live balance. A
// second call with nothing new to reconcile changes nothing.
func (a *Adapter) UpdateStatus(ctx context.Context, caller common.Address) (Status, error) {
	var status Status
	err := a.execute(ctx, "update_status", caller, operatorOrUser, func(c *call) error {
		if err := a.refreshLocked(c.ctx); err != nil {
			return err
		}
		values, err := a.accountLocked(c.ctx)
		if err != nil {
			return err
		}
		status = a.statusLocked(values)
		if status.CollateralAmountLiquidated.Sign() > 0 {
			c.emit(events.PositionLiquidated{
				OpID:             c.opID,
				Adapter:          a.address,
				LiquidatedTokens: subFloor(a.collateralTokens, values.CollateralTokens),
				LiquidatedAmount: status.CollateralAmountLiquidated,
			})
			observability.PositionMetrics().RecordLiquidation(string(a.protocol.Kind()))
		}
		if a.collateralTokens.Cmp(values.CollateralTokens) > 0 {
			a.collateralTokens = cloneBig(values.CollateralTokens)
		}
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	return status, nil
}

// ClaimRewards forwards accrued market incentives to receiver.
func (a *Adapter) ClaimRewards(ctx context.Context, caller, receiver common.Address) (common.Address, *big.Int, error) {
	var (
		token  common.Address
		amount *big.Int
	)
	err := a.execute(ctx, "claim_rewards", caller, operatorOnly, func(c *call) error {
		if receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		var err error
		token, amount, err = a.protocol.ClaimRewards(c.ctx, a.address, receiver)
		if err != nil {
			return wrapStep("claim rewards", err)
		}
		amount = cloneBig(amount)
		c.emit(events.PositionRewardsClaimed{OpID: c.opID, Adapter: a.address, Receiver: receiver, Token: token, Amount: amount})
		return nil
	})
	if err != nil {
		return common.Address{}, nil, err
	}
	return token, amount, nil
}

type accessRule uint8

const (
	operatorOnly accessRule = iota
	operatorOrUser
)

func (r accessRule) check(operator, user, caller common.Address) error {
	if caller == operator {
		return nil
	}
	if r == operatorOrUser {
		if caller == user {
			return nil
		}
		return ErrOperatorOrUserOnly
	}
	return ErrOperatorOnly
}

// call carries the configuration read once at the start of a mutating call.
type call struct {
	ctx     context.Context
	opID    string
	factors HealthFactors
	events  []events.Event
}

func (c *call) emit(e events.Event) { c.events = append(c.events, e) }

// execute runs fn with the market journal held and reverts every effect if
// fn or the following persist fails.
func (a *Adapter) execute(ctx context.Context, op string, caller common.Address, access accessRule, fn func(*call) error) (err error) {
	start := time.Now()
	c := &call{opID: uuid.NewString()}
	ctx, span := a.tracer.Start(ctx, "position."+op, trace.WithAttributes(
		attribute.String("position.adapter", a.address.Hex()),
		attribute.String("position.op_id", c.opID),
		attribute.String("position.caller", caller.Hex()),
	))
	defer span.End()
	c.ctx = ctx
	logger := a.logger.With("op", op, "opId", c.opID)
	defer func() {
		observability.PositionMetrics().Observe(op, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("position call rejected", "caller", caller.Hex(), "error", err)
			return
		}
		span.SetStatus(codes.Ok, op)
		logger.Info("position call applied", "caller", caller.Hex(), "duration", time.Since(start))
	}()

	if a.journal != nil {
		a.journal.Lock()
		defer a.journal.Unlock()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return ErrNotInitialized
	}
	controller := a.position.Controller
	if err := nativecommon.Guard(controller, ModuleName); err != nil {
		return err
	}
	c.factors = controller.HealthFactors()
	tracker := controller.Tracker()
	if err := access.check(controller.Operator(), a.position.User, caller); err != nil {
		return err
	}

	snapshot := -1
	if a.journal != nil {
		snapshot = a.journal.Snapshot()
	}
	prevLedger := cloneBig(a.collateralTokens)
	prevState := a.state
	err = fn(c)
	if err == nil {
		err = a.persistLocked()
	}
	if err != nil {
		if snapshot >= 0 {
			a.journal.RevertToSnapshot(snapshot)
		}
		a.collateralTokens = prevLedger
		a.state = prevState
		return err
	}
	if snapshot >= 0 {
		a.journal.DiscardSnapshot(snapshot)
	}
	if tracker != nil && prevState != a.state {
		switch a.state {
		case StateOpen:
			tracker.Open(a.address)
		case StateClosed:
			tracker.Close(a.address)
		}
	}
	for _, e := range c.events {
		a.emitter.Emit(e)
	}
	span.SetAttributes(attribute.String("position.state", a.state.String()))
	return nil
}

func (a *Adapter) refreshLocked(ctx context.Context) error {
	if err := a.protocol.Refresh(ctx, a.position.CollateralAsset, a.position.BorrowAsset); err != nil {
		return wrapStep("refresh", err)
	}
	return nil
}

func (a *Adapter) accountLocked(ctx context.Context) (AccountValues, error) {
	values, err := a.protocol.Account(ctx, a.address, a.position.CollateralAsset, a.position.BorrowAsset)
	if err != nil {
		return AccountValues{}, wrapStep("account", err)
	}
	return values, nil
}

func (a *Adapter) statusLocked(values AccountValues) Status {
	liquidated := big.NewInt(0)
	shortfall := subFloor(a.collateralTokens, values.CollateralTokens)
	if shortfall.Cmp(a.protocol.RoundingTolerance()) > 0 {
		liquidated = tokensToUnderlying(shortfall, values.ExchangeRate18)
	}
	return Status{
		HealthFactor:               healthFactor(values),
		CollateralAmount:           cloneBig(values.CollateralAmount),
		AmountToPay:                cloneBig(values.AmountToPay),
		CollateralAmountLiquidated: liquidated,
		Open:                       a.state == StateOpen,
	}
}

func (a *Adapter) persistLocked() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.SaveAdapter(a.recordLocked()); err != nil {
		return wrapStep("persist", err)
	}
	return nil
}

func wrapStep(step string, err error) error {
	return fmt.Errorf("position: %s: %w", step, err)
}
