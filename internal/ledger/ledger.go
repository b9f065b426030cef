// Package ledger provides the in-memory token ledger the issuance guard
// fronts: balance, allowance and supply bookkeeping plus the mint primitive
// the guard delegates to once a decision allows.
package ledger

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInvalidAccount        = errors.New("account must not be empty")
	ErrInvalidAmount         = errors.New("amount must be a non-negative integer")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Token is a mutex-guarded balance ledger. Amounts are base units at the
// token's decimal precision; returned values are always copies, so callers
// can never alias internal state.
type Token struct {
	mu         sync.RWMutex
	name       string
	symbol     string
	decimals   uint8
	total      *big.Int
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int
}

func NewToken(name, symbol string, decimals uint8) *Token {
	return &Token{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		total:      new(big.Int),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
	}
}

func (t *Token) Name() string    { return t.name }
func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() uint8 { return t.decimals }

// TotalSupply returns the circulating supply in base units.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.total)
}

// BalanceOf returns the balance of account, zero for unknown accounts.
func (t *Token) BalanceOf(account string) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Mint credits amount to recipient and grows the total supply.
func (t *Token) Mint(recipient string, amount *big.Int) error {
	if err := checkAccount(recipient); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(recipient, amount)
	t.total = new(big.Int).Add(t.total, amount)
	return nil
}

// Burn debits amount from holder and shrinks the total supply.
func (t *Token) Burn(holder string, amount *big.Int) error {
	if err := checkAccount(holder); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(holder, amount); err != nil {
		return err
	}
	t.total = new(big.Int).Sub(t.total, amount)
	return nil
}

// Transfer moves amount between accounts.
func (t *Token) Transfer(from, to string, amount *big.Int) error {
	if err := checkAccount(from); err != nil {
		return err
	}
	if err := checkAccount(to); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance, replacing any
// previous value.
func (t *Token) Approve(owner, spender string, amount *big.Int) error {
	if err := checkAccount(owner); err != nil {
		return err
	}
	if err := checkAccount(spender); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	grants, ok := t.allowances[owner]
	if !ok {
		grants = make(map[string]*big.Int)
		t.allowances[owner] = grants
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still move on owner's behalf.
func (t *Token) Allowance(owner, spender string) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if grants, ok := t.allowances[owner]; ok {
		if amount, ok := grants[spender]; ok {
			return new(big.Int).Set(amount)
		}
	}
	return new(big.Int)
}

// TransferFrom moves amount from one account to another within spender's
// allowance, reducing the allowance by the amount moved.
func (t *Token) TransferFrom(spender, from, to string, amount *big.Int) error {
	if err := checkAccount(spender); err != nil {
		return err
	}
	if err := checkAccount(from); err != nil {
		return err
	}
	if err := checkAccount(to); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	grants, ok := t.allowances[from]
	if !ok {
		return ErrInsufficientAllowance
	}
	granted, ok := grants[spender]
	if !ok || granted.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	grants[spender] = new(big.Int).Sub(granted, amount)
	return nil
}

func (t *Token) credit(account string, amount *big.Int) {
	bal, ok := t.balances[account]
	if !ok {
		bal = new(big.Int)
	}
	t.balances[account] = new(big.Int).Add(bal, amount)
}

func (t *Token) debit(account string, amount *big.Int) error {
	bal, ok := t.balances[account]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[account] = new(big.Int).Sub(bal, amount)
	return nil
}

func checkAccount(account string) error {
	if account == "" {
		return ErrInvalidAccount
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
