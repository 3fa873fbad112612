package dsc

import (
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// mockFeed is a settable price feed. Prices are at FeedPrecision (1e8).
type mockFeed struct {
	mu        sync.Mutex
	price     *big.Int
	updatedAt time.Time
	err       error
}

func newMockFeed(priceUSD int64) *mockFeed {
	return &mockFeed{
		price:     new(big.Int).Mul(big.NewInt(priceUSD), big.NewInt(100_000_000)),
		updatedAt: time.Now(),
	}
}

func (f *mockFeed) LatestPrice() (*big.Int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

func (f *mockFeed) setPrice(priceUSD int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Mul(big.NewInt(priceUSD), big.NewInt(100_000_000))
	f.updatedAt = time.Now()
}

func (f *mockFeed) setRaw(price *big.Int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.updatedAt = at
}

// mockToken is an in-memory collateral token with ERC20-ish semantics.
type mockToken struct {
	mu               sync.Mutex
	balances         map[Account]*uint256.Int
	failTransferFrom bool
	failTransfer     bool

	// onTransferFrom, when set, runs inside TransferFrom before it
	// returns. Used to simulate adversarial reentrant tokens.
	onTransferFrom func()
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[Account]*uint256.Int)}
}

func (t *mockToken) fund(account Account, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, amount)
}

func (t *mockToken) credit(account Account, amount *uint256.Int) {
	balance, ok := t.balances[account]
	if !ok {
		balance = uint256.NewInt(0)
		t.balances[account] = balance
	}
	balance.Add(balance, amount)
}

func (t *mockToken) balanceOf(account Account) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if balance, ok := t.balances[account]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

func (t *mockToken) TransferFrom(from, to Account, amount *uint256.Int) bool {
	if t.onTransferFrom != nil {
		t.onTransferFrom()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failTransferFrom {
		return false
	}
	balance, ok := t.balances[from]
	if !ok || balance.Lt(amount) {
		return false
	}
	balance.Sub(balance, amount)
	t.credit(to, amount)
	return true
}

func (t *mockToken) Transfer(to Account, amount *uint256.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failTransfer {
		return false
	}
	if balance, ok := t.balances[DefaultEngineAccount]; ok && !balance.Lt(amount) {
		balance.Sub(balance, amount)
	}
	t.credit(to, amount)
	return true
}

// mockStable is an in-memory stable-unit ledger.
type mockStable struct {
	mu       sync.Mutex
	balances map[Account]*uint256.Int
	burned   *uint256.Int
	failMint bool
	failPull bool
}

func newMockStable() *mockStable {
	return &mockStable{
		balances: make(map[Account]*uint256.Int),
		burned:   uint256.NewInt(0),
	}
}

func (s *mockStable) balanceOf(account Account) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[account]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

func (s *mockStable) Mint(to Account, amount *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMint {
		return false
	}
	balance, ok := s.balances[to]
	if !ok {
		balance = uint256.NewInt(0)
		s.balances[to] = balance
	}
	balance.Add(balance, amount)
	return true
}

func (s *mockStable) Burn(amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[DefaultEngineAccount]; ok && !balance.Lt(amount) {
		balance.Sub(balance, amount)
	}
	s.burned.Add(s.burned, amount)
}

func (s *mockStable) TransferFrom(from, to Account, amount *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPull {
		return false
	}
	balance, ok := s.balances[from]
	if !ok || balance.Lt(amount) {
		return false
	}
	balance.Sub(balance, amount)
	dest, ok := s.balances[to]
	if !ok {
		dest = uint256.NewInt(0)
		s.balances[to] = dest
	}
	dest.Add(dest, amount)
	return true
}

// e18 returns n whole units at Precision scale.
func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Precision)
}
