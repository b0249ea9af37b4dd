package deriv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

const (
	// buyRetries is how many times a purchase is re-proposed after the
	// market moves away from the quoted ask.
	buyRetries = 3

	// priceTolerance widens the maximum accepted buy price above the
	// quoted ask so small moves between proposal and buy do not reject
	// the order.
	priceTolerance = 0.10
)

// SubmitOrder buys one multiplier contract using the proposal-then-buy flow:
// request a quote, then purchase that quote id at up to ask plus tolerance.
// When the market moves too far between the two steps the broker rejects the
// buy; the order is re-proposed a bounded number of times before giving up
// with ErrPriceMoved.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= buyRetries; attempt++ {
		res, err := c.proposeAndBuy(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrPriceMoved) {
			return domain.OrderResult{}, err
		}
		c.logger.Warn("price moved between proposal and buy, retrying",
			slog.String("symbol", req.Symbol),
			slog.Int("attempt", attempt+1),
		)
	}
	return domain.OrderResult{}, lastErr
}

func (c *Client) proposeAndBuy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	contractType := "MULTUP"
	if req.Direction == domain.DirectionShort {
		contractType = "MULTDOWN"
	}

	prop := proposalRequest{
		Proposal:     1,
		Amount:       req.Stake,
		Basis:        "stake",
		ContractType: contractType,
		Currency:     c.cfg.Currency,
		Multiplier:   c.cfg.Multiplier,
		Symbol:       req.Symbol,
	}
	// Deriv's limit_order takes currency amounts, not price levels. Translate
	// the price distances into expected profit/loss for this stake and
	// multiplier.
	if req.ReferencePrice > 0 {
		tp := limitAmount(req.Stake, c.cfg.Multiplier, req.ReferencePrice, req.TakeProfit)
		sl := limitAmount(req.Stake, c.cfg.Multiplier, req.ReferencePrice, req.StopLoss)
		if tp > 0 || sl > 0 {
			prop.LimitOrder = &limitOrder{TakeProfit: tp, StopLoss: sl}
		}
	}

	var propResp proposalResponse
	if err := c.call(callCtx, &prop.ReqID, &prop, &propResp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("deriv: proposal %s: %w", req.Symbol, classifyOrderError(err))
	}

	buy := buyRequest{
		Buy:   propResp.Proposal.ID,
		Price: propResp.Proposal.AskPrice * (1 + priceTolerance),
	}
	var buyResp buyResponse
	if err := c.call(callCtx, &buy.ReqID, &buy, &buyResp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("deriv: buy %s: %w", req.Symbol, classifyOrderError(err))
	}

	return domain.OrderResult{
		ContractID: strconv.FormatInt(buyResp.Buy.ContractID, 10),
		EntryPrice: propResp.Proposal.Spot,
		BuyPrice:   buyResp.Buy.BuyPrice,
		LongCode:   buyResp.Buy.LongCode,
	}, nil
}

// ContractStatus returns the broker's current view of one contract.
func (c *Client) ContractStatus(ctx context.Context, contractID string) (domain.ContractState, error) {
	id, err := parseContractID(contractID)
	if err != nil {
		return domain.ContractState{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := openContractRequest{ProposalOpenContract: 1, ContractID: id}
	var resp openContractResponse
	if err := c.call(callCtx, &req.ReqID, &req, &resp); err != nil {
		return domain.ContractState{}, fmt.Errorf("deriv: contract status %s: %w", contractID, err)
	}

	poc := resp.ProposalOpenContract
	sold, _ := poc.IsSold.Int64()
	return domain.ContractState{
		ContractID:   contractID,
		EntryPrice:   poc.EntrySpot,
		CurrentPrice: poc.CurrentSpot,
		Profit:       poc.Profit,
		IsClosed:     sold == 1 || poc.Status != "open",
		ClosePrice:   poc.SellPrice,
		Status:       poc.Status,
	}, nil
}

// SellContract sells a contract at the current market price and returns the
// settled state.
func (c *Client) SellContract(ctx context.Context, contractID string) (domain.ContractState, error) {
	id, err := parseContractID(contractID)
	if err != nil {
		return domain.ContractState{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	// Price 0 means sell at market.
	req := sellRequest{Sell: id, Price: 0}
	if err := c.call(callCtx, &req.ReqID, &req, nil); err != nil {
		return domain.ContractState{}, fmt.Errorf("deriv: sell %s: %w", contractID, err)
	}

	// The sell acknowledgement carries the sale price but not the profit;
	// read the settled contract for the final numbers.
	return c.ContractStatus(ctx, contractID)
}

// ListOpenPositions returns every live contract on the account. Used once at
// startup to reconcile local records against broker reality.
func (c *Client) ListOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := portfolioRequest{Portfolio: 1}
	var resp portfolioResponse
	if err := c.call(callCtx, &req.ReqID, &req, &resp); err != nil {
		return nil, fmt.Errorf("deriv: portfolio: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(resp.Portfolio.Contracts))
	for _, contract := range resp.Portfolio.Contracts {
		direction := domain.DirectionLong
		if contract.ContractType == "MULTDOWN" {
			direction = domain.DirectionShort
		}
		positions = append(positions, domain.BrokerPosition{
			ContractID: strconv.FormatInt(contract.ContractID, 10),
			Symbol:     contract.Symbol,
			Direction:  direction,
			Stake:      contract.BuyPrice,
			OpenedAt:   time.Unix(contract.DateStart, 0).UTC(),
		})
	}
	return positions, nil
}

// limitAmount converts a price level into the currency profit (or loss) a
// multiplier contract realizes when the spot reaches it. Returns 0 when the
// level is unset.
func limitAmount(stake float64, multiplier int, ref, level float64) float64 {
	if level <= 0 || ref <= 0 {
		return 0
	}
	move := level - ref
	if move < 0 {
		move = -move
	}
	return stake * float64(multiplier) * move / ref
}

func parseContractID(contractID string) (int64, error) {
	id, err := strconv.ParseInt(contractID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("deriv: bad contract id %q: %w", contractID, err)
	}
	return id, nil
}

// classifyOrderError maps broker rejections onto domain errors so the engine
// can distinguish a moved price (retry) from a hard rejection (abort).
func classifyOrderError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == "PriceMoved", strings.Contains(apiErr.Message, "moved too much"):
		return fmt.Errorf("%w: %s", domain.ErrPriceMoved, apiErr.Message)
	default:
		return fmt.Errorf("%w: %s", domain.ErrBrokerRejected, apiErr.Message)
	}
}
