package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"lendkeeper/gateway/middleware"
	"lendkeeper/native/moneymarket"
	"lendkeeper/native/position"
)

const positionsRequestLimit = 1 << 16

var (
	errMissingCaller = errors.New("caller not authenticated")
	errUnknownRoute  = errors.New("adapter not found")
)

// Faucet mints sandbox tokens. It is only mounted against the in-process
// market.
type Faucet interface {
	Mint(asset, holder common.Address, amount *big.Int)
}

// positionRoutes exposes the position registry over HTTP. Calls that need
// the adapter to hold tokens first move them from the caller through the
// ledger, the way an origin converter pushes funds before calling in.
type positionRoutes struct {
	registry      *position.Registry
	ledger        moneymarket.TokenLedger
	faucet        Faucet
	horizonBlocks uint64
	timeout       time.Duration
	logger        *slog.Logger
}

func (pr *positionRoutes) mount(r chi.Router) {
	r.Get("/positions", pr.listPositions)
	r.Post("/positions", pr.createPosition)
	r.Route("/positions/{adapter}", func(sr chi.Router) {
		sr.Get("/", pr.getPosition)
		sr.Get("/status", pr.getStatus)
		sr.Post("/refresh", pr.refreshStatus)
		sr.Post("/borrow", pr.borrow)
		sr.Post("/repay", pr.repay)
		sr.Post("/borrow-rebalance", pr.borrowToRebalance)
		sr.Post("/repay-rebalance", pr.repayToRebalance)
		sr.Post("/claim", pr.claimRewards)
	})
	r.Post("/plans", pr.computePlan)
	if pr.faucet != nil {
		r.Post("/faucet", pr.mint)
	}
}

func (pr *positionRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := pr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

type positionView struct {
	Adapter          string `json:"adapter"`
	Protocol         string `json:"protocol"`
	User             string `json:"user"`
	CollateralAsset  string `json:"collateralAsset"`
	BorrowAsset      string `json:"borrowAsset"`
	OriginConverter  string `json:"originConverter"`
	State            string `json:"state"`
	CollateralTokens string `json:"collateralTokens"`
}

func viewPosition(a *position.Adapter) positionView {
	p := a.Position()
	return positionView{
		Adapter:          a.Address().Hex(),
		Protocol:         string(a.Kind()),
		User:             p.User.Hex(),
		CollateralAsset:  p.CollateralAsset.Hex(),
		BorrowAsset:      p.BorrowAsset.Hex(),
		OriginConverter:  p.OriginConverter.Hex(),
		State:            a.State().String(),
		CollateralTokens: a.CollateralTokens().String(),
	}
}

type statusView struct {
	HealthFactor               string `json:"healthFactor"`
	CollateralAmount           string `json:"collateralAmount"`
	AmountToPay                string `json:"amountToPay"`
	CollateralAmountLiquidated string `json:"collateralAmountLiquidated"`
	Open                       bool   `json:"open"`
}

func viewStatus(s position.Status) statusView {
	return statusView{
		HealthFactor:               s.HealthFactor.String(),
		CollateralAmount:           s.CollateralAmount.String(),
		AmountToPay:                s.AmountToPay.String(),
		CollateralAmountLiquidated: s.CollateralAmountLiquidated.String(),
		Open:                       s.Open,
	}
}

type planView struct {
	CollateralAmount       string `json:"collateralAmount"`
	AmountToBorrow         string `json:"amountToBorrow"`
	MaxAmountToBorrow      string `json:"maxAmountToBorrow"`
	Clamped                bool   `json:"clamped"`
	LTV                    string `json:"ltv"`
	LiquidationThreshold   string `json:"liquidationThreshold"`
	BorrowCost             string `json:"borrowCost"`
	SupplyIncome           string `json:"supplyIncome"`
	HealthFactorRequested  uint16 `json:"healthFactor"`
	HorizonBlocksEstimated uint64 `json:"horizonBlocks"`
}

func (pr *positionRoutes) listPositions(w http.ResponseWriter, r *http.Request) {
	adapters := pr.registry.Adapters()
	out := make([]positionView, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, viewPosition(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type createPositionRequest struct {
	Origin          string `json:"origin"`
	User            string `json:"user"`
	CollateralAsset string `json:"collateralAsset"`
	BorrowAsset     string `json:"borrowAsset"`
}

func (pr *positionRoutes) createPosition(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	var req createPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	origin, err := parseAddress("origin", req.Origin)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	borrow, err := parseAddress("borrowAsset", req.BorrowAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	adapter, err := pr.registry.GetOrCreate(ctx, caller, origin, user, collateral, borrow)
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPosition(adapter))
}

func (pr *positionRoutes) adapter(w http.ResponseWriter, r *http.Request) (*position.Adapter, bool) {
	raw := chi.URLParam(r, "adapter")
	addr, err := parseAddress("adapter", raw)
	if err != nil {
		writeBadRequest(w, err)
		return nil, false
	}
	a, ok := pr.registry.Adapter(addr)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%w: %s", errUnknownRoute, addr.Hex()))
		return nil, false
	}
	return a, true
}

// caller resolves both the adapter and the authenticated caller, writing
// the error response when either is missing.
func (pr *positionRoutes) caller(w http.ResponseWriter, r *http.Request) (*position.Adapter, common.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return nil, common.Address{}, false
	}
	a, ok := pr.adapter(w, r)
	if !ok {
		return nil, common.Address{}, false
	}
	return a, caller, true
}

func (pr *positionRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	a, ok := pr.adapter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewPosition(a))
}

func (pr *positionRoutes) getStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := pr.adapter(w, r)
	if !ok {
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	status, err := a.GetStatus(ctx)
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStatus(status))
}

func (pr *positionRoutes) refreshStatus(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	status, err := a.UpdateStatus(ctx, caller)
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStatus(status))
}

type borrowRequest struct {
	CollateralAmount string `json:"collateralAmount"`
	BorrowAmount     string `json:"borrowAmount"`
	Receiver         string `json:"receiver"`
}

func (pr *positionRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	collateralAmount, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	borrowAmount, err := parseAmount("borrowAmount", req.BorrowAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	asset := a.Position().CollateralAsset
	var borrowed *big.Int
	err = pr.funded(caller, a, asset, collateralAmount, func() error {
		var err error
		borrowed, err = a.Borrow(ctx, caller, collateralAmount, borrowAmount, receiver)
		return err
	})
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrowed": borrowed.String()})
}

type repayRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
	Close    bool   `json:"close"`
}

func (pr *positionRoutes) repay(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(req.Amount) != "" || !req.Close {
		parsed, err := parseAmount("amount", req.Amount)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		amount = parsed
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	asset := a.Position().BorrowAsset
	var returned *big.Int
	err = pr.funded(caller, a, asset, amount, func() error {
		var err error
		returned, err = a.Repay(ctx, caller, amount, receiver, req.Close)
		return err
	})
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collateralReturned": returned.String()})
}

type borrowRebalanceRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
}

func (pr *positionRoutes) borrowToRebalance(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	var req borrowRebalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	hf, err := a.BorrowToRebalance(ctx, caller, amount, receiver)
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"healthFactor": hf.String()})
}

type repayRebalanceRequest struct {
	Amount        string `json:"amount"`
	UseCollateral bool   `json:"useCollateral"`
}

func (pr *positionRoutes) repayToRebalance(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	var req repayRebalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	p := a.Position()
	asset := p.BorrowAsset
	if req.UseCollateral {
		asset = p.CollateralAsset
	}
	var hf *big.Int
	err = pr.funded(caller, a, asset, amount, func() error {
		var err error
		hf, err = a.RepayToRebalance(ctx, caller, amount, req.UseCollateral)
		return err
	})
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"healthFactor": hf.String()})
}

type claimRequest struct {
	Receiver string `json:"receiver"`
}

func (pr *positionRoutes) claimRewards(w http.ResponseWriter, r *http.Request) {
	a, caller, ok := pr.caller(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	token, amount, err := a.ClaimRewards(ctx, caller, receiver)
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token.Hex(), "amount": amount.String()})
}

type planRequest struct {
	Origin           string `json:"origin"`
	CollateralAsset  string `json:"collateralAsset"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowAsset      string `json:"borrowAsset"`
	HealthFactor     uint16 `json:"healthFactor"`
	HorizonBlocks    uint64 `json:"horizonBlocks"`
}

func (pr *positionRoutes) computePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	origin, err := parseAddress("origin", req.Origin)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	borrow, err := parseAddress("borrowAsset", req.BorrowAsset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	healthFactor := req.HealthFactor
	if healthFactor == 0 {
		healthFactor = pr.registry.Controller().HealthFactors().Target
	}
	horizon := req.HorizonBlocks
	if horizon == 0 {
		horizon = pr.horizonBlocks
	}
	ctx, cancel := pr.context(r.Context())
	defer cancel()
	plan, err := pr.registry.ComputePlan(ctx, origin, position.PlanRequest{
		CollateralAsset:  collateral,
		CollateralAmount: amount,
		BorrowAsset:      borrow,
		HealthFactor2:    healthFactor,
		HorizonBlocks:    horizon,
	})
	if err != nil {
		writePositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planView{
		CollateralAmount:       plan.CollateralAmount.String(),
		AmountToBorrow:         plan.AmountToBorrow.String(),
		MaxAmountToBorrow:      plan.MaxAmountToBorrow.String(),
		Clamped:                plan.Clamped,
		LTV:                    plan.LTV18.String(),
		LiquidationThreshold:   plan.LiquidationThreshold18.String(),
		BorrowCost:             plan.BorrowCost.String(),
		SupplyIncome:           plan.SupplyIncome.String(),
		HealthFactorRequested:  healthFactor,
		HorizonBlocksEstimated: horizon,
	})
}

type mintRequest struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

func (pr *positionRoutes) mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	if caller != pr.registry.Controller().Operator() {
		writePositionError(w, position.ErrOperatorOnly)
		return
	}
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	pr.faucet.Mint(asset, holder, amount)
	pr.logger.Info("sandbox tokens minted", "asset", asset.Hex(), "holder", holder.Hex(), "amount", amount.String())
	writeJSON(w, http.StatusOK, map[string]string{"balance": pr.ledger.BalanceOf(asset, holder).String()})
}

// funded moves amount of asset from the caller to the adapter, runs fn and
// hands the tokens back when fn fails. The adapter reverts its own effects,
// so on failure the transferred amount is still with it.
func (pr *positionRoutes) funded(caller common.Address, a *position.Adapter, asset common.Address, amount *big.Int, fn func() error) error {
	if amount == nil || amount.Sign() == 0 {
		return fn()
	}
	if err := pr.ledger.Transfer(asset, caller, a.Address(), amount); err != nil {
		return fmt.Errorf("%w: %v", errFunding, err)
	}
	err := fn()
	if err == nil {
		return nil
	}
	if refundErr := pr.ledger.Transfer(asset, a.Address(), caller, amount); refundErr != nil {
		pr.logger.Error("refund after failed call",
			"adapter", a.Address().Hex(),
			"caller", caller.Hex(),
			"asset", asset.Hex(),
			"amount", amount.String(),
			"error", refundErr)
	}
	return err
}

var errFunding = errors.New("fund adapter")

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, positionsRequestLimit+1))
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	if len(body) > positionsRequestLimit {
		return errors.New("request body too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body required")
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return value, nil
}

// statusFor maps position errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, position.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, position.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, position.ErrUnknownAdapter), errors.Is(err, position.ErrUnknownOrigin):
		return http.StatusNotFound
	case errors.Is(err, position.ErrInvalidAmount),
		errors.Is(err, position.ErrZeroAddress),
		errors.Is(err, position.ErrInvalidHealthFactors):
		return http.StatusBadRequest
	case errors.Is(err, position.ErrPositionNotOpen),
		errors.Is(err, position.ErrPositionAlreadyOpen),
		errors.Is(err, position.ErrClosePositionDenied),
		errors.Is(err, position.ErrRebalanceNotApplicable),
		errors.Is(err, position.ErrUnexpectedTransferAmount),
		errors.Is(err, position.ErrAlreadyInitialized),
		errors.Is(err, position.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, position.ErrUnsafeHealthFactor),
		errors.Is(err, position.ErrNotBorrowable),
		errors.Is(err, errFunding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writePositionError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	_, _ = w.Write(payload)
}
