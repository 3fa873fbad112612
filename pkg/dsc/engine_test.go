package dsc

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *Engine
	weth    *mockToken
	wbtc    *mockToken
	ethFeed *mockFeed
	btcFeed *mockFeed
	stable  *mockStable
	bus     *EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		weth:    newMockToken(),
		wbtc:    newMockToken(),
		ethFeed: newMockFeed(2000),
		btcFeed: newMockFeed(50_000),
		stable:  newMockStable(),
		bus:     NewEventBus(),
	}
	engine, err := NewEngine(Config{
		AssetIDs:    []string{"weth", "wbtc"},
		Tokens:      []CollateralToken{env.weth, env.wbtc},
		PriceFeeds:  []PriceFeed{env.ethFeed, env.btcFeed},
		StableCoin:  env.stable,
		PriceMaxAge: time.Hour,
		Sink:        env.bus,
	})
	require.NoError(t, err)
	env.engine = engine
	return env
}

// deposit funds the account and deposits in one step.
func (env *testEnv) deposit(t *testing.T, account Account, assetID string, amount *uint256.Int) {
	t.Helper()
	token := env.weth
	if assetID == "wbtc" {
		token = env.wbtc
	}
	token.fund(account, amount)
	require.NoError(t, env.engine.DepositCollateral(account, assetID, amount))
}

func TestNewEngineConfigurationMismatch(t *testing.T) {
	weth := newMockToken()
	feed := newMockFeed(2000)
	stable := newMockStable()

	t.Run("FeedListShorter", func(t *testing.T) {
		_, err := NewEngine(Config{
			AssetIDs:   []string{"weth", "wbtc"},
			Tokens:     []CollateralToken{weth, weth},
			PriceFeeds: []PriceFeed{feed},
			StableCoin: stable,
		})
		assert.ErrorIs(t, err, ErrConfigurationMismatch)
	})

	t.Run("TokenListShorter", func(t *testing.T) {
		_, err := NewEngine(Config{
			AssetIDs:   []string{"weth", "wbtc"},
			Tokens:     []CollateralToken{weth},
			PriceFeeds: []PriceFeed{feed, feed},
			StableCoin: stable,
		})
		assert.ErrorIs(t, err, ErrConfigurationMismatch)
	})

	t.Run("MissingStableCoin", func(t *testing.T) {
		_, err := NewEngine(Config{
			AssetIDs:   []string{"weth"},
			Tokens:     []CollateralToken{weth},
			PriceFeeds: []PriceFeed{feed},
		})
		assert.ErrorIs(t, err, ErrConfigurationMismatch)
	})

	t.Run("DuplicateAsset", func(t *testing.T) {
		_, err := NewEngine(Config{
			AssetIDs:   []string{"weth", "weth"},
			Tokens:     []CollateralToken{weth, weth},
			PriceFeeds: []PriceFeed{feed, feed},
			StableCoin: stable,
		})
		assert.ErrorIs(t, err, ErrConfigurationMismatch)
	})
}

func TestDepositCollateral(t *testing.T) {
	env := newTestEnv(t)

	t.Run("ZeroAmount", func(t *testing.T) {
		env.weth.fund("alice", e18(10))
		err := env.engine.DepositCollateral("alice", "weth", uint256.NewInt(0))
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("UnsupportedAsset", func(t *testing.T) {
		err := env.engine.DepositCollateral("alice", "doge", e18(1))
		assert.ErrorIs(t, err, ErrUnsupportedAsset)
	})

	t.Run("Success", func(t *testing.T) {
		env.deposit(t, "alice", "weth", e18(10))

		assert.Equal(t, e18(10), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
		assert.Equal(t, e18(10), env.weth.balanceOf(DefaultEngineAccount))
		assert.True(t, env.weth.balanceOf("alice").IsZero())

		debt, value, err := env.engine.GetAccountInformation("alice")
		require.NoError(t, err)
		assert.True(t, debt.IsZero())
		assert.Equal(t, e18(20_000), value)

		// USD value converts back to the deposited amount
		back, err := env.engine.GetTokenAmountFromUSD("weth", value)
		require.NoError(t, err)
		assert.Equal(t, e18(10), back)
	})

	t.Run("TransferFailedRollsBack", func(t *testing.T) {
		env := newTestEnv(t)
		env.weth.failTransferFrom = true
		env.weth.fund("bob", e18(5))

		err := env.engine.DepositCollateral("bob", "weth", e18(5))
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.True(t, env.engine.GetCollateralBalanceOfUser("bob", "weth").IsZero())
	})
}

func TestMintDSC(t *testing.T) {
	t.Run("ZeroAmount", func(t *testing.T) {
		env := newTestEnv(t)
		assert.ErrorIs(t, env.engine.MintDSC("alice", uint256.NewInt(0)), ErrZeroAmount)
	})

	t.Run("NoCollateral", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.engine.MintDSC("alice", e18(1))
		assert.ErrorIs(t, err, ErrHealthFactorBroken)
		assert.True(t, env.engine.TotalDebt().IsZero())
	})

	t.Run("ExactlyHalfCollateralValue", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10)) // $20,000

		require.NoError(t, env.engine.MintDSC("alice", e18(10_000)))

		hf, err := env.engine.HealthFactor("alice")
		require.NoError(t, err)
		assert.Equal(t, MinHealthFactor, hf)
		assert.Equal(t, e18(10_000), env.stable.balanceOf("alice"))
	})

	t.Run("SixtyPercentBreaksHealthFactor", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))

		err := env.engine.MintDSC("alice", e18(12_000))
		assert.ErrorIs(t, err, ErrHealthFactorBroken)
		assert.True(t, env.engine.TotalDebt().IsZero())
		assert.True(t, env.stable.balanceOf("alice").IsZero())
	})

	t.Run("MintFailedRollsBack", func(t *testing.T) {
		env := newTestEnv(t)
		env.stable.failMint = true
		env.deposit(t, "alice", "weth", e18(10))

		err := env.engine.MintDSC("alice", e18(100))
		assert.ErrorIs(t, err, ErrMintFailed)
		assert.True(t, env.engine.TotalDebt().IsZero())
	})

	t.Run("StalePriceAbortsMint", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))

		env.ethFeed.mu.Lock()
		env.ethFeed.updatedAt = time.Now().Add(-2 * time.Hour)
		env.ethFeed.mu.Unlock()

		err := env.engine.MintDSC("alice", e18(100))
		assert.ErrorIs(t, err, ErrStalePrice)
		assert.True(t, env.engine.TotalDebt().IsZero())
	})
}

func TestBurnDSC(t *testing.T) {
	setup := func(t *testing.T) *testEnv {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))
		require.NoError(t, env.engine.MintDSC("alice", e18(5000)))
		return env
	}

	t.Run("ZeroAmount", func(t *testing.T) {
		env := setup(t)
		assert.ErrorIs(t, env.engine.BurnDSC("alice", uint256.NewInt(0)), ErrZeroAmount)
	})

	t.Run("BurnAll", func(t *testing.T) {
		env := setup(t)
		require.NoError(t, env.engine.BurnDSC("alice", e18(5000)))

		debt, _, err := env.engine.GetAccountInformation("alice")
		require.NoError(t, err)
		assert.True(t, debt.IsZero())
		assert.Equal(t, e18(5000), env.stable.burned)
		assert.True(t, env.stable.balanceOf("alice").IsZero())
	})

	t.Run("BurnMoreThanMinted", func(t *testing.T) {
		env := setup(t)
		err := env.engine.BurnDSC("alice", e18(5001))
		assert.ErrorIs(t, err, ErrInsufficientDebt)
		assert.Equal(t, e18(5000), env.engine.TotalDebt())
	})

	t.Run("PullFailedRollsBack", func(t *testing.T) {
		env := setup(t)
		env.stable.failPull = true

		err := env.engine.BurnDSC("alice", e18(1000))
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, e18(5000), env.engine.TotalDebt())
	})
}

func TestRedeemCollateral(t *testing.T) {
	t.Run("MoreThanDeposited", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))

		err := env.engine.RedeemCollateral("alice", "weth", e18(11))
		assert.ErrorIs(t, err, ErrInsufficientCollateral)
		assert.Equal(t, e18(10), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
	})

	t.Run("FullRedeemWithZeroDebt", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))

		require.NoError(t, env.engine.RedeemCollateral("alice", "weth", e18(10)))
		assert.True(t, env.engine.GetCollateralBalanceOfUser("alice", "weth").IsZero())
		assert.Equal(t, e18(10), env.weth.balanceOf("alice"))
	})

	t.Run("HealthFactorGate", func(t *testing.T) {
		env := newTestEnv(t)
		env.deposit(t, "alice", "weth", e18(10))
		require.NoError(t, env.engine.MintDSC("alice", e18(10_000)))

		// Position is at exactly the minimum; any withdrawal breaks it
		err := env.engine.RedeemCollateral("alice", "weth", e18(1))
		assert.ErrorIs(t, err, ErrHealthFactorBroken)
		assert.Equal(t, e18(10), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
		assert.True(t, env.weth.balanceOf("alice").IsZero())
	})
}

func TestComposedOperations(t *testing.T) {
	t.Run("DepositAndMint", func(t *testing.T) {
		env := newTestEnv(t)
		env.weth.fund("alice", e18(10))

		require.NoError(t, env.engine.DepositCollateralAndMintDSC("alice", "weth", e18(10), e18(8000)))
		assert.Equal(t, e18(10), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
		assert.Equal(t, e18(8000), env.stable.balanceOf("alice"))
	})

	t.Run("DepositAndMintRollsBackTogether", func(t *testing.T) {
		env := newTestEnv(t)
		env.weth.fund("alice", e18(10))

		err := env.engine.DepositCollateralAndMintDSC("alice", "weth", e18(10), e18(12_000))
		assert.ErrorIs(t, err, ErrHealthFactorBroken)
		// The deposit leg is undone along with the failed mint
		assert.True(t, env.engine.GetCollateralBalanceOfUser("alice", "weth").IsZero())
		assert.True(t, env.engine.TotalDebt().IsZero())
	})

	t.Run("RedeemForDSC", func(t *testing.T) {
		env := newTestEnv(t)
		env.weth.fund("alice", e18(10))
		require.NoError(t, env.engine.DepositCollateralAndMintDSC("alice", "weth", e18(10), e18(8000)))

		require.NoError(t, env.engine.RedeemCollateralForDSC("alice", "weth", e18(2), e18(8000)))
		assert.Equal(t, e18(8), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
		assert.True(t, env.engine.TotalDebt().IsZero())
		assert.Equal(t, e18(2), env.weth.balanceOf("alice"))
	})
}

func TestReentrancyGuard(t *testing.T) {
	env := newTestEnv(t)
	env.weth.fund("alice", e18(10))

	var reentrantErr error
	env.weth.onTransferFrom = func() {
		env.weth.onTransferFrom = nil
		reentrantErr = env.engine.DepositCollateral("alice", "weth", e18(1))
	}

	require.NoError(t, env.engine.DepositCollateral("alice", "weth", e18(5)))
	assert.ErrorIs(t, reentrantErr, ErrReentrantCall)
	// Only the outer deposit landed
	assert.Equal(t, e18(5), env.engine.GetCollateralBalanceOfUser("alice", "weth"))
}

func TestEventsOnCommitOnly(t *testing.T) {
	env := newTestEnv(t)
	events := env.bus.Subscribe()

	env.deposit(t, "alice", "weth", e18(10))

	ev := <-events
	assert.Equal(t, EventCollateralDeposited, ev.Type)
	assert.Equal(t, Account("alice"), ev.Account)
	assert.Equal(t, "weth", ev.Asset)
	assert.Equal(t, e18(10), ev.Amount)
	assert.False(t, ev.Timestamp.IsZero())

	// A failed operation publishes nothing
	err := env.engine.MintDSC("alice", e18(12_000))
	assert.ErrorIs(t, err, ErrHealthFactorBroken)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s after failed operation", ev.Type)
	default:
	}
}

func TestGetters(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, []string{"weth", "wbtc"}, env.engine.GetCollateralTokens())

	feed, err := env.engine.GetCollateralTokenPriceFeed("wbtc")
	require.NoError(t, err)
	assert.Equal(t, env.btcFeed, feed)

	_, err = env.engine.GetCollateralTokenPriceFeed("doge")
	assert.ErrorIs(t, err, ErrUnsupportedAsset)

	_, err = env.engine.GetUSDValue("doge", e18(1))
	assert.ErrorIs(t, err, ErrUnsupportedAsset)

	// Multi-asset aggregation
	env.deposit(t, "alice", "weth", e18(10))   // $20,000
	env.deposit(t, "alice", "wbtc", e18(1))    // $50,000
	value, err := env.engine.GetAccountCollateralValueInUSD("alice")
	require.NoError(t, err)
	assert.Equal(t, e18(70_000), value)
}

func TestSnapshotExcludesRolledBackState(t *testing.T) {
	env := newTestEnv(t)
	env.weth.fund("alice", e18(10))
	env.weth.failTransferFrom = true

	// A snapshot requested while the deposit is still in flight must
	// wait for its rollback rather than capture the uncommitted balance.
	snapCh := make(chan *Snapshot, 1)
	env.weth.onTransferFrom = func() {
		go func() { snapCh <- env.engine.Snapshot() }()
	}

	err := env.engine.DepositCollateral("alice", "weth", e18(10))
	assert.ErrorIs(t, err, ErrTransferFailed)

	snap := <-snapCh
	_, ok := snap.Accounts["alice"]
	assert.False(t, ok, "snapshot holds collateral that never committed")
	assert.True(t, env.engine.GetCollateralBalanceOfUser("alice", "weth").IsZero())
}

func TestFailureObserver(t *testing.T) {
	weth := newMockToken()
	stable := newMockStable()

	var reasons []string
	engine, err := NewEngine(Config{
		AssetIDs:    []string{"weth"},
		Tokens:      []CollateralToken{weth},
		PriceFeeds:  []PriceFeed{newMockFeed(2000)},
		StableCoin:  stable,
		PriceMaxAge: time.Hour,
		OnFailure:   func(reason string) { reasons = append(reasons, reason) },
	})
	require.NoError(t, err)

	assert.ErrorIs(t, engine.DepositCollateral("alice", "weth", uint256.NewInt(0)), ErrZeroAmount)
	assert.ErrorIs(t, engine.MintDSC("alice", e18(1)), ErrHealthFactorBroken)

	// Successful operations report nothing
	weth.fund("alice", e18(10))
	require.NoError(t, engine.DepositCollateral("alice", "weth", e18(10)))

	assert.Equal(t, []string{"zero_amount", "health_factor_broken"}, reasons)
}

func TestSnapshotRestore(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", "weth", e18(10))
	require.NoError(t, env.engine.MintDSC("alice", e18(4000)))
	env.deposit(t, "bob", "wbtc", e18(2))

	snap := env.engine.Snapshot()
	assert.Len(t, snap.Accounts, 2)
	assert.Equal(t, e18(4000), snap.Accounts["alice"].DebtMinted)
	assert.Equal(t, e18(2), snap.Accounts["bob"].Collateral["wbtc"])

	// Restore into a fresh engine
	fresh := newTestEnv(t)
	fresh.engine.RestoreSnapshot(snap)
	assert.Equal(t, e18(10), fresh.engine.GetCollateralBalanceOfUser("alice", "weth"))
	assert.Equal(t, e18(4000), fresh.engine.TotalDebt())
}
