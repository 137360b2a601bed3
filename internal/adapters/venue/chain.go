// Package venue contiene los ExecutionVenue: on-chain (firma remota + RPC) y
// paper (simulado, sin efectos).
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/shopspring/decimal"
)

const defaultReceiptTimeout = 60 * time.Second

var (
	ErrReverted            = errors.New("transaction reverted on-chain")
	ErrInsufficientBalance = errors.New("wallet balance below minimum")
)

var weiPerNative = decimal.New(1, 18)

// ChainConfig configura el venue on-chain.
type ChainConfig struct {
	// NativePrice es el precio del token nativo en la moneda de cotización,
	// para expresar el gas en las mismas unidades que el profit.
	NativePrice    decimal.Decimal
	MinBalanceWei  *big.Int
	ReceiptTimeout time.Duration
}

// Chain ejecuta órdenes firmándolas fuera del proceso y enviándolas por RPC.
type Chain struct {
	cfg    ChainConfig
	chain  ports.ChainClient
	signer ports.TxSigner
}

// NewChain crea un venue on-chain.
func NewChain(cfg ChainConfig, chain ports.ChainClient, signer ports.TxSigner) *Chain {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	return &Chain{cfg: cfg, chain: chain, signer: signer}
}

// Preflight comprueba que la wallet tiene gas suficiente antes de arrancar.
func (v *Chain) Preflight(ctx context.Context) error {
	bal, err := v.chain.GetBalance(ctx, v.signer.Address())
	if err != nil {
		return fmt.Errorf("venue.Preflight: %w", err)
	}
	slog.Info("venue: wallet balance", "address", v.signer.Address(), "wei", bal.String())
	if v.cfg.MinBalanceWei != nil && bal.Cmp(v.cfg.MinBalanceWei) < 0 {
		return fmt.Errorf("venue.Preflight: %w: have %s wei, need %s",
			ErrInsufficientBalance, bal, v.cfg.MinBalanceWei)
	}
	return nil
}

// Execute firma, envía y espera el receipt. Un revert devuelve error junto con
// el receipt parcial (tx y coste de gas) para que el llamador registre la pérdida.
func (v *Chain) Execute(ctx context.Context, order domain.TradeOrder) (domain.ExecutionReceipt, error) {
	raw, err := v.signer.SignTrade(ctx, order)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: sign: %w", err)
	}

	hash, err := v.chain.SendSignedTransaction(ctx, raw)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: send: %w", err)
	}

	timeout := v.cfg.ReceiptTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	r, err := v.chain.WaitForReceipt(ctx, hash, timeout)
	if err != nil {
		return domain.ExecutionReceipt{TxReference: hash}, fmt.Errorf("venue.Execute: receipt: %w", err)
	}

	gasCost := v.gasCost(r)
	receipt := domain.ExecutionReceipt{
		TxReference: hash,
		GasUsed:     r.GasUsed,
		GasCost:     gasCost,
		BlockNumber: r.BlockNumber,
	}
	if !r.Success {
		return receipt, fmt.Errorf("venue.Execute: %w: %s", ErrReverted, hash)
	}

	receipt.ActualProfit = order.SellPrice.Sub(order.BuyPrice).Mul(order.Amount).Sub(gasCost)
	slog.Info("venue: trade confirmed",
		"id", order.ID,
		"tx", hash,
		"block", r.BlockNumber,
		"gas_cost", gasCost.StringFixed(4),
		"profit", receipt.ActualProfit.StringFixed(4),
	)
	return receipt, nil
}

// gasCost = gasUsed × effectiveGasPrice / 1e18 × nativePrice
func (v *Chain) gasCost(r domain.Receipt) decimal.Decimal {
	wei := decimal.NewFromInt(int64(r.GasUsed)).Mul(r.EffectiveGasPrice)
	return wei.Div(weiPerNative).Mul(v.cfg.NativePrice)
}

// EstimateGasCost expresa en moneda de cotización el coste de gasLimit unidades
// a gasPriceWei. Lo usa el detector como coste fijo por trade.
func (v *Chain) EstimateGasCost(gasPriceWei *big.Int, gasLimit uint64) decimal.Decimal {
	if gasPriceWei == nil {
		return decimal.Zero
	}
	return v.gasCost(domain.Receipt{
		GasUsed:           gasLimit,
		EffectiveGasPrice: decimal.NewFromBigInt(gasPriceWei, 0),
	})
}
