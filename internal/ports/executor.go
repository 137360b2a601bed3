package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// ChainClient is the narrow blockchain RPC surface the execution layer needs.
type ChainClient interface {
	// GetBalance returns the native balance (wei) of address.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// SendSignedTransaction broadcasts an already signed raw transaction.
	SendSignedTransaction(ctx context.Context, rawTx []byte) (txHash string, err error)

	// WaitForReceipt blocks until the tx is mined or timeout elapses.
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (domain.Receipt, error)
}

// TxSigner turns an order into a signed raw transaction. Key custody lives
// outside this process.
type TxSigner interface {
	SignTrade(ctx context.Context, order domain.TradeOrder) (rawTx []byte, err error)
	Address() string
}

// ExecutionVenue settles a trade order. Any error is a Failed terminal outcome.
type ExecutionVenue interface {
	Execute(ctx context.Context, order domain.TradeOrder) (domain.ExecutionReceipt, error)
}

// DailyLedger exposes today's aggregate counters to the risk gate.
type DailyLedger interface {
	Daily(now time.Time) domain.DailyTotals
}
