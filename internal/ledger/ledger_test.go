package ledger

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_MintAndSupply(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 6)

	require.NoError(t, tok.Mint("alice", big.NewInt(1_500_000)))
	require.NoError(t, tok.Mint("bob", big.NewInt(500_000)))

	assert.Equal(t, "2000000", tok.TotalSupply().String())
	assert.Equal(t, "1500000", tok.BalanceOf("alice").String())
	assert.Equal(t, "500000", tok.BalanceOf("bob").String())
	assert.Equal(t, "0", tok.BalanceOf("carol").String())
	assert.Equal(t, uint8(6), tok.Decimals())
}

func TestToken_MintValidation(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 6)

	testCases := []struct {
		name      string
		recipient string
		amount    *big.Int
		wantErr   error
	}{
		{name: "empty_recipient", recipient: "", amount: big.NewInt(1), wantErr: ErrInvalidAccount},
		{name: "nil_amount", recipient: "alice", amount: nil, wantErr: ErrInvalidAmount},
		{name: "negative_amount", recipient: "alice", amount: big.NewInt(-1), wantErr: ErrInvalidAmount},
		{name: "zero_amount_ok", recipient: "alice", amount: big.NewInt(0), wantErr: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tok.Mint(tc.recipient, tc.amount)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, "0", tok.TotalSupply().String(), "failed mints must not move supply")
}

func TestToken_BurnShrinksSupply(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 2)
	require.NoError(t, tok.Mint("alice", big.NewInt(1000)))

	require.NoError(t, tok.Burn("alice", big.NewInt(400)))
	assert.Equal(t, "600", tok.BalanceOf("alice").String())
	assert.Equal(t, "600", tok.TotalSupply().String())

	err := tok.Burn("alice", big.NewInt(601))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "600", tok.TotalSupply().String())
}

func TestToken_Transfer(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 2)
	require.NoError(t, tok.Mint("alice", big.NewInt(300)))

	require.NoError(t, tok.Transfer("alice", "bob", big.NewInt(120)))
	assert.Equal(t, "180", tok.BalanceOf("alice").String())
	assert.Equal(t, "120", tok.BalanceOf("bob").String())

	err := tok.Transfer("bob", "alice", big.NewInt(121))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "120", tok.BalanceOf("bob").String(), "failed transfer must not debit")
	assert.Equal(t, "300", tok.TotalSupply().String(), "transfers never move supply")
}

func TestToken_ApproveAndTransferFrom(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 2)
	require.NoError(t, tok.Mint("alice", big.NewInt(500)))
	require.NoError(t, tok.Approve("alice", "broker", big.NewInt(200)))

	assert.Equal(t, "200", tok.Allowance("alice", "broker").String())
	assert.Equal(t, "0", tok.Allowance("alice", "stranger").String())

	require.NoError(t, tok.TransferFrom("broker", "alice", "bob", big.NewInt(150)))
	assert.Equal(t, "350", tok.BalanceOf("alice").String())
	assert.Equal(t, "150", tok.BalanceOf("bob").String())
	assert.Equal(t, "50", tok.Allowance("alice", "broker").String())

	err := tok.TransferFrom("broker", "alice", "bob", big.NewInt(51))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	err = tok.TransferFrom("stranger", "alice", "bob", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestToken_ApproveReplacesPriorGrant(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 2)
	require.NoError(t, tok.Approve("alice", "broker", big.NewInt(200)))
	require.NoError(t, tok.Approve("alice", "broker", big.NewInt(25)))

	assert.Equal(t, "25", tok.Allowance("alice", "broker").String())
}

func TestToken_ReturnedAmountsAreCopies(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 2)
	require.NoError(t, tok.Mint("alice", big.NewInt(100)))

	supply := tok.TotalSupply()
	supply.SetInt64(0)
	assert.Equal(t, "100", tok.TotalSupply().String())

	bal := tok.BalanceOf("alice")
	bal.SetInt64(0)
	assert.Equal(t, "100", tok.BalanceOf("alice").String())
}

func TestToken_ConcurrentMints(t *testing.T) {
	tok := NewToken("Backed Dollar", "BUSD", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.Mint("alice", big.NewInt(1))
		}()
	}
	wg.Wait()

	assert.Equal(t, "50", tok.TotalSupply().String())
}
