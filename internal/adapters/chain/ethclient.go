// Package chain implementa ports.ChainClient sobre el cliente JSON-RPC de
// go-ethereum.
package chain

// ethclient.go: superficie mínima de RPC que necesita la ejecución:
//   - balance nativo de la wallet (preflight)
//   - broadcast de una tx ya firmada fuera del proceso
//   - polling del receipt hasta que se mina o vence el timeout
//   - precio de gas sugerido, cacheado

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval    = 3 * time.Second
	gasPriceUpdateInterval = 5 * time.Minute
	fallbackGasPriceWei    = 30_000_000_000 // 30 gwei
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrReceiptTimeout = errors.New("receipt not available before timeout")
)

// backend es el subconjunto de *ethclient.Client que usa Client.
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Client implementa ports.ChainClient.
type Client struct {
	rpc          backend
	pollInterval time.Duration

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// Dial conecta con el nodo RPC.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain.Dial: %s: %w", rpcURL, err)
	}
	return newClient(ec, defaultPollInterval), nil
}

func newClient(rpc backend, poll time.Duration) *Client {
	return &Client{rpc: rpc, pollInterval: poll}
}

// GetBalance devuelve el balance nativo (wei) de address.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain.GetBalance: %w: %q", ErrInvalidAddress, address)
	}
	bal, err := c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("chain.GetBalance: %w", err)
	}
	return bal, nil
}

// SendSignedTransaction decodifica la tx firmada (RLP o typed envelope) y la difunde.
func (c *Client) SendSignedTransaction(ctx context.Context, rawTx []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", fmt.Errorf("chain.SendSignedTransaction: decode: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("chain.SendSignedTransaction: send %s: %w", tx.Hash().Hex(), err)
	}
	slog.Info("chain: transaction sent", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx.Hash().Hex(), nil
}

// WaitForReceipt hace polling del receipt hasta que la tx se mina o vence timeout.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("chain.WaitForReceipt %s: %w: %w", txHash, ErrReceiptTimeout, ctx.Err())
		case <-ticker.C:
			r, err := c.rpc.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				continue // todavía no minada
			}
			if err != nil {
				slog.Debug("chain: receipt poll failed", "tx", txHash, "err", err)
				continue
			}
			return toReceipt(txHash, r), nil
		}
	}
}

func toReceipt(txHash string, r *types.Receipt) domain.Receipt {
	out := domain.Receipt{
		TxHash:            txHash,
		Success:           r.Status == types.ReceiptStatusSuccessful,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: decimal.Zero,
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = decimal.NewFromBigInt(r.EffectiveGasPrice, 0)
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

// GasPrice devuelve el precio de gas sugerido más un 10%, cacheado 5 minutos.
// Si el nodo falla usa el último valor conocido o 30 gwei.
func (c *Client) GasPrice(ctx context.Context) *big.Int {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		slog.Warn("chain: gas price unavailable, using fallback", "err", err)
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasPriceWei)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()
	return buffered
}
