package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Cache lifetimes per endpoint class.
const (
	nodeInfoTTL       = 300 * time.Second
	latestBlockTTL    = 10 * time.Second
	walletBalanceTTL  = 30 * time.Second
	validatorStakeTTL = 60 * time.Second
	paramsTTL         = 300 * time.Second
	stakingPoolTTL    = 60 * time.Second
)

var nodeInfoPaths = []string{
	"/node_info",
	"/cosmos/base/tendermint/v1beta1/node_info",
}

// Options tunes the fetch layer of a Client.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Observer    Observer
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return o
}

// Client talks to the REST API of one node. It owns its response cache and
// the node identity resolved at construction.
type Client struct {
	name    string
	pool    *Pool
	cache   *Cache
	fetcher *Fetcher
	logger  *slog.Logger

	mu      sync.RWMutex
	moniker string
	chainID string

	apiCalls  atomic.Uint64
	apiErrors atomic.Uint64
	lastCall  atomic.Int64
}

// NewClient creates a client for the node called name. urls holds the primary
// API URL followed by optional fallbacks. Node info is resolved before
// returning; failing to resolve it is logged and does not fail construction.
func NewClient(ctx context.Context, name string, urls []string, opts Options) *Client {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "api_client", "chain", name)
	opts.Logger = logger

	c := &Client{
		name:    name,
		pool:    NewPool(urls...),
		cache:   NewCache(),
		fetcher: NewFetcher(opts),
		logger:  logger,
	}
	c.fetchNodeInfo(ctx)
	return c
}

type request struct {
	endpoint string
	path     string
	query    url.Values
	ttl      time.Duration
}

func (c *Client) get(ctx context.Context, r request) ([]byte, error) {
	key := CacheKey(c.pool.Primary()+r.path, r.query)
	return c.cache.GetOrFetch(key, r.ttl, func() ([]byte, error) {
		return c.fetchWithFallback(ctx, r)
	})
}

func (c *Client) fetchWithFallback(ctx context.Context, r request) ([]byte, error) {
	c.apiCalls.Add(1)
	c.lastCall.Store(time.Now().UnixNano())

	var lastErr error = &TransportError{URL: r.path, Err: errors.New("no endpoints configured")}
	for _, ep := range c.pool.Ordered() {
		body, err := c.fetcher.Fetch(ctx, r.endpoint, ep.URL+r.path, r.query)
		if err == nil {
			ep.recordSuccess()
			return body, nil
		}

		c.apiErrors.Add(1)
		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, err
		}

		ep.recordFailure(err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if c.pool.Len() > 1 {
			c.logger.Warn("Endpoint unavailable, trying next", "url", ep.URL, "error", err)
		}
	}
	return nil, lastErr
}

func (c *Client) getJSON(ctx context.Context, r request, v interface{}) error {
	body, err := c.get(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fieldError(r.endpoint, err)
	}
	return nil
}

type nodeInfoResponse struct {
	NodeInfo        *NodeInfo `json:"node_info"`
	DefaultNodeInfo *NodeInfo `json:"default_node_info"`
}

type NodeInfo struct {
	Moniker string `json:"moniker"`
	Network string `json:"network"`
}

func (c *Client) fetchNodeInfo(ctx context.Context) bool {
	for _, path := range nodeInfoPaths {
		var res nodeInfoResponse
		err := c.getJSON(ctx, request{endpoint: "node_info", path: path, ttl: nodeInfoTTL}, &res)
		if err != nil {
			c.logger.Debug("Node info endpoint failed", "path", path, "error", err)
			continue
		}

		info := res.NodeInfo
		if info == nil {
			info = res.DefaultNodeInfo
		}
		if info == nil || info.Moniker == "" || info.Network == "" {
			c.logger.Error("Error parsing node info", "path", path, "error", "moniker or network missing")
			continue
		}

		c.setIdentity(info.Moniker, info.Network)
		c.logger.Info("Connected to node", "moniker", info.Moniker, "chain_id", info.Network)
		return true
	}

	c.logger.Warn("Failed to fetch node info from all endpoints")
	return false
}

// setIdentity stores non-empty values only; known identity is never erased.
func (c *Client) setIdentity(moniker, chainID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if moniker != "" {
		c.moniker = moniker
	}
	if chainID != "" {
		c.chainID = chainID
	}
}

func (c *Client) identity() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.moniker, c.chainID
}

// Moniker returns the node moniker, retrying node info while it is unknown.
func (c *Client) Moniker(ctx context.Context) string {
	if moniker, _ := c.identity(); moniker != "" {
		return moniker
	}
	c.fetchNodeInfo(ctx)
	moniker, _ := c.identity()
	return moniker
}

type LatestBlockResponse struct {
	Block *struct {
		Header struct {
			Height  Scalar `json:"height"`
			ChainID string `json:"chain_id"`
			Time    string `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

func (c *Client) latestBlock(ctx context.Context) (*LatestBlockResponse, error) {
	var res LatestBlockResponse
	err := c.getJSON(ctx, request{
		endpoint: "blocks_latest",
		path:     "/cosmos/base/tendermint/v1beta1/blocks/latest",
		ttl:      latestBlockTTL,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Block == nil {
		return nil, fieldError("block", errMissing)
	}
	return &res, nil
}

// ChainHeight returns block.header.height of the latest block.
func (c *Client) ChainHeight(ctx context.Context) (int64, error) {
	res, err := c.latestBlock(ctx)
	if err != nil {
		return 0, err
	}
	height, err := res.Block.Header.Height.Int64()
	if err != nil {
		return 0, fieldError("block.header.height", err)
	}
	return height, nil
}

// ChainID returns the chain id from node info, or from the latest block when
// node info was never resolved.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	if _, chainID := c.identity(); chainID != "" {
		return chainID, nil
	}

	res, err := c.latestBlock(ctx)
	if err != nil {
		return "", err
	}
	chainID := res.Block.Header.ChainID
	if chainID == "" {
		return "", fieldError("block.header.chain_id", errMissing)
	}
	c.setIdentity("", chainID)
	return chainID, nil
}

type Coin struct {
	Amount Scalar `json:"amount"`
	Denom  string `json:"denom"`
}

type WalletBalanceResponse struct {
	Balances *[]Coin `json:"balances"`
}

// WalletBalance returns the amount of denom held by address. A wallet that
// holds none of denom has a balance of zero.
func (c *Client) WalletBalance(ctx context.Context, address, denom string) (float64, error) {
	var res WalletBalanceResponse
	err := c.getJSON(ctx, request{
		endpoint: "bank_balances",
		path:     "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address),
		ttl:      walletBalanceTTL,
	}, &res)
	if err != nil {
		return 0, err
	}
	if res.Balances == nil {
		return 0, fieldError("balances", errMissing)
	}

	for _, coin := range *res.Balances {
		if coin.Denom != denom {
			continue
		}
		amount, err := coin.Amount.Float64()
		if err != nil {
			return 0, fieldError("balances.amount", err)
		}
		return amount, nil
	}

	c.logger.Warn("No balance found for denom", "denom", denom, "wallet", address)
	return 0, nil
}

type ValidatorResponse struct {
	Validator *struct {
		OperatorAddress string `json:"operator_address"`
		Tokens          Scalar `json:"tokens"`
		Description     struct {
			Moniker string `json:"moniker"`
		} `json:"description"`
	} `json:"validator"`
}

// ValidatorStake returns validator.tokens of the given operator address.
func (c *Client) ValidatorStake(ctx context.Context, validatorAddress string) (float64, error) {
	var res ValidatorResponse
	err := c.getJSON(ctx, request{
		endpoint: "staking_validator",
		path:     "/cosmos/staking/v1beta1/validators/" + url.PathEscape(validatorAddress),
		ttl:      validatorStakeTTL,
	}, &res)
	if err != nil {
		return 0, err
	}
	if res.Validator == nil {
		return 0, fieldError("validator", errMissing)
	}

	tokens, err := res.Validator.Tokens.Float64()
	if err != nil {
		return 0, fieldError("validator.tokens", err)
	}
	return tokens, nil
}

type DistributionParams struct {
	CommunityTax        Scalar `json:"community_tax"`
	BaseProposerReward  Scalar `json:"base_proposer_reward"`
	BonusProposerReward Scalar `json:"bonus_proposer_reward"`
	WithdrawAddrEnabled Scalar `json:"withdraw_addr_enabled"`
}

func (c *Client) DistributionParams(ctx context.Context) (*DistributionParams, error) {
	var res struct {
		Params *DistributionParams `json:"params"`
	}
	if err := c.getParams(ctx, "distribution_params", "/cosmos/distribution/v1beta1/params", &res); err != nil {
		return nil, err
	}
	if res.Params == nil {
		return nil, fieldError("params", errMissing)
	}
	return res.Params, nil
}

type MintParams struct {
	MintDenom           Scalar `json:"mint_denom"`
	InflationRateChange Scalar `json:"inflation_rate_change"`
	InflationMax        Scalar `json:"inflation_max"`
	InflationMin        Scalar `json:"inflation_min"`
	GoalBonded          Scalar `json:"goal_bonded"`
	BlocksPerYear       Scalar `json:"blocks_per_year"`
}

func (c *Client) MintParams(ctx context.Context) (*MintParams, error) {
	var res struct {
		Params *MintParams `json:"params"`
	}
	if err := c.getParams(ctx, "mint_params", "/cosmos/mint/v1beta1/params", &res); err != nil {
		return nil, err
	}
	if res.Params == nil {
		return nil, fieldError("params", errMissing)
	}
	return res.Params, nil
}

type SlashingParams struct {
	SignedBlocksWindow      Scalar `json:"signed_blocks_window"`
	MinSignedPerWindow      Scalar `json:"min_signed_per_window"`
	DowntimeJailDuration    Scalar `json:"downtime_jail_duration"`
	SlashFractionDoubleSign Scalar `json:"slash_fraction_double_sign"`
	SlashFractionDowntime   Scalar `json:"slash_fraction_downtime"`
}

// DowntimeJailSeconds parses downtime_jail_duration ("600s") into seconds.
func (p *SlashingParams) DowntimeJailSeconds() (int64, error) {
	return p.DowntimeJailDuration.Seconds()
}

func (c *Client) SlashingParams(ctx context.Context) (*SlashingParams, error) {
	var res struct {
		Params *SlashingParams `json:"params"`
	}
	if err := c.getParams(ctx, "slashing_params", "/cosmos/slashing/v1beta1/params", &res); err != nil {
		return nil, err
	}
	if res.Params == nil {
		return nil, fieldError("params", errMissing)
	}
	return res.Params, nil
}

type StakingParams struct {
	UnbondingTime     Scalar `json:"unbonding_time"`
	MaxValidators     Scalar `json:"max_validators"`
	MaxEntries        Scalar `json:"max_entries"`
	HistoricalEntries Scalar `json:"historical_entries"`
	BondDenom         Scalar `json:"bond_denom"`
}

// UnbondingSeconds parses unbonding_time ("1814400s") into seconds.
func (p *StakingParams) UnbondingSeconds() (int64, error) {
	return p.UnbondingTime.Seconds()
}

func (c *Client) StakingParams(ctx context.Context) (*StakingParams, error) {
	var res struct {
		Params *StakingParams `json:"params"`
	}
	if err := c.getParams(ctx, "staking_params", "/cosmos/staking/v1beta1/params", &res); err != nil {
		return nil, err
	}
	if res.Params == nil {
		return nil, fieldError("params", errMissing)
	}
	return res.Params, nil
}

func (c *Client) getParams(ctx context.Context, endpoint, path string, v interface{}) error {
	return c.getJSON(ctx, request{endpoint: endpoint, path: path, ttl: paramsTTL}, v)
}

type StakingPool struct {
	BondedTokens    Scalar `json:"bonded_tokens"`
	NotBondedTokens Scalar `json:"not_bonded_tokens"`
}

func (c *Client) StakingPool(ctx context.Context) (*StakingPool, error) {
	var res struct {
		Pool *StakingPool `json:"pool"`
	}
	err := c.getJSON(ctx, request{
		endpoint: "staking_pool",
		path:     "/cosmos/staking/v1beta1/pool",
		ttl:      stakingPoolTTL,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Pool == nil {
		return nil, fieldError("pool", errMissing)
	}
	return res.Pool, nil
}

// Stats summarises the client's upstream traffic. The numbers are
// informational only.
type Stats struct {
	Calls     uint64           `json:"api_calls"`
	Errors    uint64           `json:"api_errors"`
	ErrorRate float64          `json:"error_rate"`
	LastCall  time.Time        `json:"last_api_call"`
	CacheSize int              `json:"cache_size"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

func (c *Client) Stats() Stats {
	calls := c.apiCalls.Load()
	errs := c.apiErrors.Load()

	s := Stats{
		Calls:     calls,
		Errors:    errs,
		CacheSize: c.cache.Len(),
		Endpoints: c.pool.Statuses(),
	}
	if calls > 0 {
		s.ErrorRate = float64(errs) / float64(calls)
	}
	if last := c.lastCall.Load(); last > 0 {
		s.LastCall = time.Unix(0, last)
	}
	return s
}

func (c *Client) String() string {
	moniker, chainID := c.identity()
	return fmt.Sprintf("%s (moniker=%s chain_id=%s url=%s)", c.name, moniker, chainID, c.pool.Primary())
}
