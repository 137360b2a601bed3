package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/arbfleet/config"
	"github.com/alejandrodnm/arbfleet/internal/adapters/chain"
	"github.com/alejandrodnm/arbfleet/internal/adapters/signer"
	"github.com/alejandrodnm/arbfleet/internal/adapters/venue"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/shopspring/decimal"
)

// gas estimado de un swap doble (compra + venta) en un DEX tipo Uniswap v2
const swapGasLimit = 250_000

// buildVenue crea el venue de ejecución y devuelve el coste de gas que el
// detector descuenta a cada candidato.
func buildVenue(ctx context.Context, cfg *config.Config) (ports.ExecutionVenue, decimal.Decimal, error) {
	ec := cfg.Executor
	switch ec.Venue {
	case "paper":
		gas := config.Dec(ec.Paper.GasCost)
		if cfg.Detector.GasCost > 0 {
			gas = config.Dec(cfg.Detector.GasCost)
		}
		slog.Info("venue: paper", "gas_cost", gas.StringFixed(4), "slippage_bps", ec.Paper.SlippageBps)
		return venue.NewPaper(venue.PaperConfig{
			GasCost:     gas,
			SlippageBps: ec.Paper.SlippageBps,
			Latency:     config.Millis(ec.Paper.LatencyMs),
		}), gas, nil

	case "chain":
		client, err := chain.Dial(ctx, ec.Chain.RPCURL)
		if err != nil {
			return nil, decimal.Zero, err
		}
		remote, err := signer.NewRemote(ec.Chain.SignerURL, ec.Chain.SignerToken, ec.Chain.WalletAddress)
		if err != nil {
			return nil, decimal.Zero, err
		}
		minBalance, err := cfg.MinBalanceWei()
		if err != nil {
			return nil, decimal.Zero, err
		}

		v := venue.NewChain(venue.ChainConfig{
			NativePrice:    config.Dec(ec.Chain.NativePrice),
			MinBalanceWei:  minBalance,
			ReceiptTimeout: config.Seconds(ec.Chain.ReceiptTimeoutSeconds),
		}, client, remote)
		if err := v.Preflight(ctx); err != nil {
			return nil, decimal.Zero, err
		}

		gas := config.Dec(cfg.Detector.GasCost)
		if cfg.Detector.GasCost <= 0 {
			gasPrice := client.GasPrice(ctx)
			gas = v.EstimateGasCost(gasPrice, swapGasLimit)
			slog.Info("venue: gas cost estimated from node",
				"gas_price_wei", gasPrice.String(), "gas_limit", swapGasLimit, "gas_cost", gas.StringFixed(4))
		}
		slog.Info("venue: chain", "rpc", ec.Chain.RPCURL, "wallet", remote.Address())
		return v, gas, nil
	}
	return nil, decimal.Zero, fmt.Errorf("venue: unknown venue %q", ec.Venue)
}
