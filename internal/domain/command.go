package domain

import "github.com/shopspring/decimal"

// Command is the closed set of operator commands and queries. The unexported
// marker method keeps other packages from adding cases, so control.Dispatch
// can switch over every variant.
type Command interface {
	command()
}

// StatusQuery asks for the worker runtime states.
type StatusQuery struct{}

// OpportunitiesQuery asks for the latest ranked candidates.
type OpportunitiesQuery struct{}

// TradesQuery asks for active + recently archived orders.
type TradesQuery struct{}

// TradeQuery asks for a single order.
type TradeQuery struct {
	ID string
}

// SubmitCommand creates a trade for the best current candidate on Symbol.
type SubmitCommand struct {
	SymbolPair string
	Amount     decimal.Decimal
	Execute    bool // run the order right away
}

// CancelCommand cancels a pending order.
type CancelCommand struct {
	ID string
}

// UpdateRiskLimitsCommand replaces the risk limits.
type UpdateRiskLimitsCommand struct {
	Limits RiskLimits
}

// RecoverWorkerCommand queues a manual recovery action.
type RecoverWorkerCommand struct {
	Worker string
	Kind   ActionKind
	Reason string
}

// ReregisterWorkerCommand re-registers a worker with its current definition,
// resetting its restart budget. Start launches it right after.
type ReregisterWorkerCommand struct {
	Worker string
	Start  bool
}

func (StatusQuery) command()             {}
func (OpportunitiesQuery) command()      {}
func (TradesQuery) command()             {}
func (TradeQuery) command()              {}
func (SubmitCommand) command()           {}
func (CancelCommand) command()           {}
func (UpdateRiskLimitsCommand) command() {}
func (RecoverWorkerCommand) command()    {}
func (ReregisterWorkerCommand) command() {}
