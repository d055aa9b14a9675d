package collector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"orbit-metrics/config"
	"orbit-metrics/metrics"
	"orbit-metrics/rpc"
	"orbit-metrics/rpc/rpctest"
)

const (
	wallet    = "bitsong1qxw4fjged2xve8ez7nu779tm8ejw92rv0vcuqr"
	validator = "bitsongvaloper1qxw4fjged2xve8ez7nu779tm8ejw92rv2l3cf4"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testNode(url string) config.Node {
	return config.Node{
		Name:       "ChainA",
		APIURL:     url,
		MainDenom:  "ubtsg",
		Wallets:    []config.Wallet{{Address: wallet, Type: "treasury"}},
		Validators: []config.Validator{{ValidatorID: validator}},
	}
}

// healthyChain serves every endpoint the collector reads.
func healthyChain(t *testing.T) *rpctest.Server {
	srv := rpctest.NewServer(t)
	srv.JSON(rpctest.NodeInfoPath, rpctest.NodeInfoBody("bitsong-node-1", "bitsong-2b"))
	srv.JSON(rpctest.LatestBlockPath, rpctest.LatestBlockBody("18722229", "bitsong-2b"))
	srv.JSON(rpctest.BalancesPath+wallet, rpctest.BalancesBody("ubtsg", "2500000"))
	srv.JSON(rpctest.ValidatorsPath+validator, rpctest.ValidatorBody(validator, "1500000000000"))
	srv.JSON(rpctest.DistributionPath, rpctest.DistributionBody)
	srv.JSON(rpctest.MintPath, rpctest.MintBody)
	srv.JSON(rpctest.SlashingPath, rpctest.SlashingBody)
	srv.JSON(rpctest.StakingParamsPath, rpctest.StakingParamsBody)
	srv.JSON(rpctest.StakingPoolPath, rpctest.StakingPoolBody)
	return srv
}

func newTestCollector(t *testing.T, node config.Node, m *metrics.Metrics) *Collector {
	t.Helper()
	client := rpc.NewClient(context.Background(), node.Name, node.URLs(), rpc.Options{
		Backoff:  time.Millisecond,
		Timeout:  2 * time.Second,
		Observer: m.RequestObserver(node.Name),
	})
	return New(client, node, m, discardLogger())
}

func TestCollectAll_HealthyNode(t *testing.T) {
	srv := healthyChain(t)
	m := metrics.New("test")
	c := newTestCollector(t, testNode(srv.URL), m)

	res := c.CollectAll(context.Background())

	assert.Empty(t, res.Failed)
	assert.Len(t, res.Succeeded, 8)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Up.WithLabelValues("ChainA")))

	assert.Equal(t, 18722229.0, testutil.ToFloat64(m.ChainHeight.WithLabelValues("ChainA", "bitsong-2b", "bitsong-node-1")))
	assert.Equal(t, 2500000.0, testutil.ToFloat64(m.WalletBalance.WithLabelValues("ChainA", "bitsong-2b", wallet, "treasury")))
	assert.Equal(t, 1.5e12, testutil.ToFloat64(m.ValidatorStake.WithLabelValues("ChainA", "bitsong-2b", validator)))

	assert.InDelta(t, 0.02, testutil.ToFloat64(m.CommunityTax.WithLabelValues("ChainA")), 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WithdrawAddrEnabled.WithLabelValues("ChainA")))

	assert.InDelta(t, 0.13, testutil.ToFloat64(m.InflationRateChange.WithLabelValues("ChainA", "ubtsg")), 1e-12)
	assert.Equal(t, 6311520.0, testutil.ToFloat64(m.BlocksPerYear.WithLabelValues("ChainA", "ubtsg")))

	assert.Equal(t, 10000.0, testutil.ToFloat64(m.SignedBlocksWindow.WithLabelValues("ChainA")))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.DowntimeJailDuration.WithLabelValues("ChainA")))

	assert.Equal(t, 1814400.0, testutil.ToFloat64(m.UnbondingTime.WithLabelValues("ChainA", "ubtsg")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.MaxValidators.WithLabelValues("ChainA", "ubtsg")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MaxEntries.WithLabelValues("ChainA", "ubtsg")))
	assert.Equal(t, 10000.0, testutil.ToFloat64(m.HistoricalEntries.WithLabelValues("ChainA", "ubtsg")))

	assert.Equal(t, 245118924779634.0, testutil.ToFloat64(m.BondedTokens.WithLabelValues("ChainA")))
	assert.Equal(t, 1638292839116.0, testutil.ToFloat64(m.NotBondedTokens.WithLabelValues("ChainA")))

	assert.Equal(t, 0, testutil.CollectAndCount(m.ScrapeFailures))
	assert.Positive(t, testutil.ToFloat64(m.APIRequests.WithLabelValues("ChainA", "staking_pool", "200")))
}

func TestCollectAll_ChainAScenario(t *testing.T) {
	srv := rpctest.NewServer(t)
	srv.JSON(rpctest.NodeInfoPath, rpctest.NodeInfoBody("chain-a-node", "bitsong-2b"))
	srv.JSON(rpctest.LatestBlockPath, rpctest.LatestBlockBody("18722229", "bitsong-2b"))
	srv.JSON(rpctest.BalancesPath+"addressA1", `{"balances":[{"denom":"udenom","amount":"42"}]}`)
	srv.JSON(rpctest.ValidatorsPath+"validatorA1", rpctest.ValidatorBody("validatorA1", "1000"))

	node := config.Node{
		Name:       "ChainA",
		APIURL:     srv.URL,
		MainDenom:  "udenom",
		Wallets:    []config.Wallet{{Address: "addressA1", Type: "validator"}},
		Validators: []config.Validator{{ValidatorID: "validatorA1"}},
	}
	m := metrics.New("test")
	c := newTestCollector(t, node, m)

	res := c.CollectAll(context.Background())

	assert.Subset(t, res.Succeeded, []string{OpChain, OpWallets, OpValidators})
	assert.Equal(t, 18722229.0, testutil.ToFloat64(m.ChainHeight.WithLabelValues("ChainA", "bitsong-2b", "chain-a-node")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.WalletBalance.WithLabelValues("ChainA", "bitsong-2b", "addressA1", "validator")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.ValidatorStake.WithLabelValues("ChainA", "bitsong-2b", "validatorA1")))
}

func TestCollectAll_PartialMintPayload(t *testing.T) {
	srv := healthyChain(t)
	srv.JSON(rpctest.MintPath, `{"params":{"mint_denom":"ubtsg","inflation_max":"0.100000000000000000"}}`)
	m := metrics.New("test")
	c := newTestCollector(t, testNode(srv.URL), m)

	res := c.CollectAll(context.Background())

	assert.Contains(t, res.Failed, OpMint)
	assert.InDelta(t, 0.10, testutil.ToFloat64(m.InflationMax.WithLabelValues("ChainA", "ubtsg")), 1e-12)
	assert.Equal(t, 0, testutil.CollectAndCount(m.InflationMin))
	assert.Equal(t, 0, testutil.CollectAndCount(m.GoalBonded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScrapeFailures.WithLabelValues("ChainA")))
}

func TestCollectAll_FailingEndpointIsIsolated(t *testing.T) {
	srv := healthyChain(t)
	srv.Handle(rpctest.StakingPoolPath, http.StatusInternalServerError, `{"code":13,"message":"internal"}`)
	m := metrics.New("test")
	c := newTestCollector(t, testNode(srv.URL), m)

	res := c.CollectAll(context.Background())

	assert.Equal(t, []string{OpStakingPool}, res.Failed)
	assert.Equal(t, 3, srv.Hits(rpctest.StakingPoolPath))
	assert.Equal(t, 0, testutil.CollectAndCount(m.BondedTokens))
	assert.Equal(t, 18722229.0, testutil.ToFloat64(m.ChainHeight.WithLabelValues("ChainA", "bitsong-2b", "bitsong-node-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Up.WithLabelValues("ChainA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScrapeFailures.WithLabelValues("ChainA")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("ChainA", "staking_pool", "500")))
}

func TestCollectAll_MissingMonikerSkipsHeight(t *testing.T) {
	srv := healthyChain(t)
	srv.Handle(rpctest.NodeInfoPath, http.StatusServiceUnavailable, `{}`)
	m := metrics.New("test")
	c := newTestCollector(t, testNode(srv.URL), m)

	res := c.CollectAll(context.Background())

	assert.Contains(t, res.Failed, OpChain)
	assert.Equal(t, 0, testutil.CollectAndCount(m.ChainHeight))
	// chain_id still comes from the latest block
	assert.Equal(t, 2500000.0, testutil.ToFloat64(m.WalletBalance.WithLabelValues("ChainA", "bitsong-2b", wallet, "treasury")))
}

func TestCollectAll_UnreachableNode(t *testing.T) {
	srv := rpctest.NewServer(t)
	addr := srv.URL
	srv.Close()

	m := metrics.New("test")
	c := newTestCollector(t, testNode(addr), m)

	res := c.CollectAll(context.Background())

	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 8)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Up.WithLabelValues("ChainA")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.ScrapeFailures.WithLabelValues("ChainA")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.ChainHeight))
}

func TestCollectAll_NoWalletsOrValidators(t *testing.T) {
	srv := healthyChain(t)
	node := testNode(srv.URL)
	node.Wallets = nil
	node.Validators = nil
	m := metrics.New("test")
	c := newTestCollector(t, node, m)

	res := c.CollectAll(context.Background())

	assert.Equal(t, []string{OpValidators, OpWallets}, res.Skipped)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, testutil.CollectAndCount(m.WalletBalance))
}

func TestCollectAll_MissingBondDenomSkipsStakingParams(t *testing.T) {
	srv := healthyChain(t)
	srv.JSON(rpctest.StakingParamsPath, `{"params":{"unbonding_time":"1814400s","max_validators":100}}`)
	m := metrics.New("test")
	c := newTestCollector(t, testNode(srv.URL), m)

	res := c.CollectAll(context.Background())

	assert.Contains(t, res.Failed, OpStaking)
	assert.Equal(t, 0, testutil.CollectAndCount(m.UnbondingTime))
	assert.Equal(t, 0, testutil.CollectAndCount(m.MaxValidators))
}

type panickingClient struct {
	APIClient
}

func (panickingClient) StakingPool(context.Context) (*rpc.StakingPool, error) {
	panic("boom")
}

func TestCollectAll_RecoversFromPanic(t *testing.T) {
	srv := healthyChain(t)
	node := testNode(srv.URL)
	m := metrics.New("test")
	client := rpc.NewClient(context.Background(), node.Name, node.URLs(), rpc.Options{Backoff: time.Millisecond})

	c := New(panickingClient{APIClient: client}, node, m, discardLogger())
	res := c.CollectAll(context.Background())

	assert.Equal(t, []string{OpStakingPool}, res.Failed)
	assert.Len(t, res.Succeeded, 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Up.WithLabelValues("ChainA")))
}
