package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	balance     *big.Int
	sent        []*types.Transaction
	receipt     *types.Receipt
	pendingPoll int // polls que devuelven NotFound antes del receipt
	gasCalls    int
	gasErr      error
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingPoll > 0 || f.receipt == nil {
		f.pendingPoll--
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasCalls++
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return big.NewInt(100), nil
}

func signedRawTx(t *testing.T) ([]byte, *types.Transaction) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	tx := types.NewTransaction(7, to, big.NewInt(0), 21000, big.NewInt(30_000_000_000), nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(137)), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return raw, signed
}

func TestGetBalance(t *testing.T) {
	c := newClient(&fakeBackend{balance: big.NewInt(42)}, time.Millisecond)

	bal, err := c.GetBalance(context.Background(), "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	_, err = c.GetBalance(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSendSignedTransaction(t *testing.T) {
	fb := &fakeBackend{}
	c := newClient(fb, time.Millisecond)
	raw, signed := signedRawTx(t)

	hash, err := c.SendSignedTransaction(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash().Hex(), hash)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, uint64(7), fb.sent[0].Nonce())

	_, err = c.SendSignedTransaction(context.Background(), []byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestWaitForReceipt_PollsUntilMined(t *testing.T) {
	fb := &fakeBackend{
		pendingPoll: 2,
		receipt: &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			GasUsed:           150_000,
			EffectiveGasPrice: big.NewInt(30_000_000_000),
			BlockNumber:       big.NewInt(1234),
		},
	}
	c := newClient(fb, time.Millisecond)

	r, err := c.WaitForReceipt(context.Background(), "0xabc", time.Second)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(150_000), r.GasUsed)
	assert.Equal(t, uint64(1234), r.BlockNumber)
	assert.Equal(t, "30000000000", r.EffectiveGasPrice.String())
}

func TestWaitForReceipt_Reverted(t *testing.T) {
	fb := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 90_000}}
	c := newClient(fb, time.Millisecond)

	r, err := c.WaitForReceipt(context.Background(), "0xabc", time.Second)
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.True(t, r.EffectiveGasPrice.IsZero())
}

func TestWaitForReceipt_Timeout(t *testing.T) {
	c := newClient(&fakeBackend{}, time.Millisecond)
	_, err := c.WaitForReceipt(context.Background(), "0xabc", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGasPrice_CachedWithBuffer(t *testing.T) {
	fb := &fakeBackend{}
	c := newClient(fb, time.Millisecond)

	assert.Equal(t, int64(110), c.GasPrice(context.Background()).Int64())
	assert.Equal(t, int64(110), c.GasPrice(context.Background()).Int64())
	assert.Equal(t, 1, fb.gasCalls)
}

func TestGasPrice_Fallback(t *testing.T) {
	c := newClient(&fakeBackend{gasErr: errors.New("rpc down")}, time.Millisecond)
	assert.Equal(t, int64(fallbackGasPriceWei), c.GasPrice(context.Background()).Int64())
}
