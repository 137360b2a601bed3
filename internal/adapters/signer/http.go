// Package signer habla con el servicio externo que custodia la clave y firma
// las transacciones de trading.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

var (
	ErrRejected     = errors.New("signer rejected order")
	ErrEmptyAddress = errors.New("signer address not configured")
)

type signRequest struct {
	From  string            `json:"from"`
	Order domain.TradeOrder `json:"order"`
}

type signResponse struct {
	RawTx  string `json:"raw_tx"`
	Reason string `json:"reason,omitempty"`
}

// Remote implementa ports.TxSigner contra un firmante HTTP.
type Remote struct {
	http    *http.Client
	base    string
	token   string
	address common.Address
	limiter *rate.Limiter
}

// NewRemote crea un Remote. address es la wallet cuyas txs firma el servicio.
func NewRemote(base, token, address string) (*Remote, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("signer.NewRemote: invalid address %q", address)
	}
	return &Remote{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		token:   token,
		address: common.HexToAddress(address),
		// una firma por trade: 5/s es de sobra
		limiter: rate.NewLimiter(5, 2),
	}, nil
}

// Address devuelve la dirección checksum de la wallet.
func (r *Remote) Address() string { return r.address.Hex() }

// SignTrade pide al servicio la tx firmada para order.
// No reintenta: firmar dos veces la misma orden puede producir dos nonces.
func (r *Remote) SignTrade(ctx context.Context, order domain.TradeOrder) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("signer.SignTrade: rate limiter: %w", err)
	}

	body, err := json.Marshal(signRequest{From: r.Address(), Order: order})
	if err != nil {
		return nil, fmt.Errorf("signer.SignTrade: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signer.SignTrade: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer.SignTrade: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var out signResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return nil, fmt.Errorf("signer.SignTrade: %w: %s", ErrRejected, out.Reason)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("signer.SignTrade: status %d: %s", resp.StatusCode, msg)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("signer.SignTrade: decode: %w", err)
	}
	raw, err := hexutil.Decode(out.RawTx)
	if err != nil {
		return nil, fmt.Errorf("signer.SignTrade: raw_tx: %w", err)
	}
	return raw, nil
}
