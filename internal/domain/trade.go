package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus represents the lifecycle of a trade order.
//
//	PENDING → EXECUTING → COMPLETED | FAILED
//	PENDING → CANCELLED
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeExecuting TradeStatus = "EXECUTING"
	TradeCompleted TradeStatus = "COMPLETED"
	TradeFailed    TradeStatus = "FAILED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// ErrInvalidTransition is returned when a status change would break the state machine.
var ErrInvalidTransition = errors.New("invalid trade state transition")

// Terminal returns true for states with no outgoing transitions.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeCompleted, TradeFailed, TradeCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s → next is a legal step.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	switch s {
	case TradePending:
		return next == TradeExecuting || next == TradeCancelled
	case TradeExecuting:
		return next == TradeCompleted || next == TradeFailed
	}
	return false
}

// TradeOrder is created from an approved ArbitrageCandidate. Only the status and
// the execution outcome fields change after creation.
type TradeOrder struct {
	ID             string           `json:"id"`
	SymbolPair     string           `json:"symbol_pair"`
	Amount         decimal.Decimal  `json:"amount"`
	BuyVenue       string           `json:"buy_venue"`
	SellVenue      string           `json:"sell_venue"`
	BuyPrice       decimal.Decimal  `json:"buy_price"`
	SellPrice      decimal.Decimal  `json:"sell_price"`
	MinSellPrice   decimal.Decimal  `json:"min_sell_price"` // slippage bound passed to the venue
	ExpectedProfit decimal.Decimal  `json:"expected_profit"`
	Status         TradeStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty"`
	ActualProfit   *decimal.Decimal `json:"actual_profit,omitempty"`
	TxReference    string           `json:"tx_reference,omitempty"`
	GasUsed        uint64           `json:"gas_used,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
}

// Transition moves the order to next, enforcing monotonic progress.
func (o *TradeOrder) Transition(next TradeStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s (order %s)", ErrInvalidTransition, o.Status, next, o.ID)
	}
	o.Status = next
	return nil
}

// VenuePair returns the "buy->sell" label used for statistics.
func (o TradeOrder) VenuePair() string {
	return o.BuyVenue + "->" + o.SellVenue
}

// RealizedProfit returns ActualProfit or zero when the order never settled.
func (o TradeOrder) RealizedProfit() decimal.Decimal {
	if o.ActualProfit == nil {
		return decimal.Zero
	}
	return *o.ActualProfit
}

// ExecutionReceipt is what an execution venue reports for a settled trade.
type ExecutionReceipt struct {
	TxReference  string
	GasUsed      uint64
	GasCost      decimal.Decimal // in quote currency
	BlockNumber  uint64
	ActualProfit decimal.Decimal
}

// Receipt is the chain-level transaction receipt returned by the RPC collaborator.
type Receipt struct {
	TxHash            string
	Success           bool
	GasUsed           uint64
	EffectiveGasPrice decimal.Decimal // wei
	BlockNumber       uint64
}
