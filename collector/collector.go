package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"orbit-metrics/config"
	"orbit-metrics/metrics"
	"orbit-metrics/rpc"
)

// APIClient is the upstream surface a Collector reads from.
type APIClient interface {
	Moniker(ctx context.Context) string
	ChainID(ctx context.Context) (string, error)
	ChainHeight(ctx context.Context) (int64, error)
	WalletBalance(ctx context.Context, address, denom string) (float64, error)
	ValidatorStake(ctx context.Context, validatorAddress string) (float64, error)
	DistributionParams(ctx context.Context) (*rpc.DistributionParams, error)
	MintParams(ctx context.Context) (*rpc.MintParams, error)
	SlashingParams(ctx context.Context) (*rpc.SlashingParams, error)
	StakingParams(ctx context.Context) (*rpc.StakingParams, error)
	StakingPool(ctx context.Context) (*rpc.StakingPool, error)
	Stats() rpc.Stats
}

var _ APIClient = (*rpc.Client)(nil)

var (
	errLabelUnresolved = errors.New("label unresolved")
	errNothingToDo     = errors.New("nothing to collect")
)

// Operation names, as they appear in logs and Result.
const (
	OpChain        = "chain"
	OpWallets      = "wallets"
	OpValidators   = "validators"
	OpDistribution = "distribution"
	OpMint         = "mint"
	OpSlashing     = "slashing"
	OpStaking      = "staking_params"
	OpStakingPool  = "staking_pool"
)

// Result reports the outcome of one CollectAll call.
type Result struct {
	Node      string
	Succeeded []string
	Failed    []string
	Skipped   []string
}

// Up reports whether any operation produced data.
func (r Result) Up() bool { return len(r.Succeeded) > 0 }

// Collector maps the API of one node onto the metric registry.
type Collector struct {
	client  APIClient
	node    config.Node
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(client APIClient, node config.Node, m *metrics.Metrics, logger *slog.Logger) *Collector {
	return &Collector{
		client:  client,
		node:    node,
		metrics: m,
		logger:  logger.With("component", "collector", "chain", node.Name),
	}
}

type operation struct {
	name string
	fn   func(ctx context.Context) error
}

// CollectAll runs every operation concurrently. A failing or panicking
// operation is logged and counted; it never affects the others.
func (c *Collector) CollectAll(ctx context.Context) Result {
	ops := []operation{
		{OpChain, c.collectChain},
		{OpWallets, c.collectWallets},
		{OpValidators, c.collectValidators},
		{OpDistribution, c.collectDistribution},
		{OpMint, c.collectMint},
		{OpSlashing, c.collectSlashing},
		{OpStaking, c.collectStakingParams},
		{OpStakingPool, c.collectStakingPool},
	}

	res := Result{Node: c.node.Name}
	var mu sync.Mutex
	var g errgroup.Group
	for _, op := range ops {
		op := op
		g.Go(func() error {
			err := c.run(ctx, op)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errNothingToDo):
				res.Skipped = append(res.Skipped, op.name)
			case err != nil:
				res.Failed = append(res.Failed, op.name)
			default:
				res.Succeeded = append(res.Succeeded, op.name)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	sort.Strings(res.Failed)
	sort.Strings(res.Skipped)

	up := 0.0
	if res.Up() {
		up = 1
	}
	c.metrics.Up.WithLabelValues(c.node.Name).Set(up)

	return res
}

func (c *Collector) run(ctx context.Context, op operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil || errors.Is(err, errNothingToDo) {
			return
		}

		c.metrics.ScrapeFailures.WithLabelValues(c.node.Name).Inc()

		var perr *rpc.ParseError
		if errors.As(err, &perr) {
			c.logger.Error("Error collecting metrics", "operation", op.name, "error", err)
		} else {
			c.logger.Warn("Failed to collect metrics", "operation", op.name, "error", err)
		}
	}()

	return op.fn(ctx)
}

func unresolved(label string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errLabelUnresolved, label, err)
	}
	return fmt.Errorf("%w: %s", errLabelUnresolved, label)
}

func (c *Collector) collectChain(ctx context.Context) error {
	height, err := c.client.ChainHeight(ctx)
	if err != nil {
		return err
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return unresolved("chain_id", err)
	}
	moniker := c.client.Moniker(ctx)
	if moniker == "" {
		return unresolved("host", nil)
	}

	c.metrics.ChainHeight.WithLabelValues(c.node.Name, chainID, moniker).Set(float64(height))
	c.logger.Debug("Collected chain height", "height", height, "chain_id", chainID)
	return nil
}

func (c *Collector) collectWallets(ctx context.Context) error {
	if len(c.node.Wallets) == 0 {
		return errNothingToDo
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return unresolved("chain_id", err)
	}

	var errs []error
	for _, w := range c.node.Wallets {
		balance, err := c.client.WalletBalance(ctx, w.Address, c.node.MainDenom)
		if err != nil {
			errs = append(errs, fmt.Errorf("wallet %s: %w", w.Address, err))
			continue
		}
		c.metrics.WalletBalance.WithLabelValues(c.node.Name, chainID, w.Address, w.Type).Set(balance)
	}
	return errors.Join(errs...)
}

func (c *Collector) collectValidators(ctx context.Context) error {
	if len(c.node.Validators) == 0 {
		return errNothingToDo
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return unresolved("chain_id", err)
	}

	var errs []error
	for _, v := range c.node.Validators {
		stake, err := c.client.ValidatorStake(ctx, v.ValidatorID)
		if err != nil {
			errs = append(errs, fmt.Errorf("validator %s: %w", v.ValidatorID, err))
			continue
		}
		c.metrics.ValidatorStake.WithLabelValues(c.node.Name, chainID, v.ValidatorID).Set(stake)
	}
	return errors.Join(errs...)
}

func (c *Collector) collectDistribution(ctx context.Context) error {
	p, err := c.client.DistributionParams(ctx)
	if err != nil {
		return err
	}

	name := c.node.Name
	return errors.Join(
		setFloat(c.metrics.CommunityTax, p.CommunityTax, "community_tax", name),
		setFloat(c.metrics.BaseProposerReward, p.BaseProposerReward, "base_proposer_reward", name),
		setFloat(c.metrics.BonusProposerReward, p.BonusProposerReward, "bonus_proposer_reward", name),
		setBool(c.metrics.WithdrawAddrEnabled, p.WithdrawAddrEnabled, "withdraw_addr_enabled", name),
	)
}

func (c *Collector) collectMint(ctx context.Context) error {
	p, err := c.client.MintParams(ctx)
	if err != nil {
		return err
	}

	denom := p.MintDenom.String()
	if denom == "" {
		return &rpc.ParseError{Field: "mint_denom", Err: errLabelUnresolved}
	}

	labels := []string{c.node.Name, denom}
	return errors.Join(
		setFloat(c.metrics.InflationRateChange, p.InflationRateChange, "inflation_rate_change", labels...),
		setFloat(c.metrics.InflationMax, p.InflationMax, "inflation_max", labels...),
		setFloat(c.metrics.InflationMin, p.InflationMin, "inflation_min", labels...),
		setFloat(c.metrics.GoalBonded, p.GoalBonded, "goal_bonded", labels...),
		setInt(c.metrics.BlocksPerYear, p.BlocksPerYear, "blocks_per_year", labels...),
	)
}

func (c *Collector) collectSlashing(ctx context.Context) error {
	p, err := c.client.SlashingParams(ctx)
	if err != nil {
		return err
	}

	name := c.node.Name
	return errors.Join(
		setInt(c.metrics.SignedBlocksWindow, p.SignedBlocksWindow, "signed_blocks_window", name),
		setFloat(c.metrics.MinSignedPerWindow, p.MinSignedPerWindow, "min_signed_per_window", name),
		setSeconds(c.metrics.DowntimeJailDuration, p.DowntimeJailDuration, "downtime_jail_duration", name),
		setFloat(c.metrics.SlashFractionDoubleSign, p.SlashFractionDoubleSign, "slash_fraction_double_sign", name),
		setFloat(c.metrics.SlashFractionDowntime, p.SlashFractionDowntime, "slash_fraction_downtime", name),
	)
}

func (c *Collector) collectStakingParams(ctx context.Context) error {
	p, err := c.client.StakingParams(ctx)
	if err != nil {
		return err
	}

	denom := p.BondDenom.String()
	if denom == "" {
		return &rpc.ParseError{Field: "bond_denom", Err: errLabelUnresolved}
	}

	labels := []string{c.node.Name, denom}
	return errors.Join(
		setSeconds(c.metrics.UnbondingTime, p.UnbondingTime, "unbonding_time", labels...),
		setInt(c.metrics.MaxValidators, p.MaxValidators, "max_validators", labels...),
		setInt(c.metrics.MaxEntries, p.MaxEntries, "max_entries", labels...),
		setInt(c.metrics.HistoricalEntries, p.HistoricalEntries, "historical_entries", labels...),
	)
}

func (c *Collector) collectStakingPool(ctx context.Context) error {
	p, err := c.client.StakingPool(ctx)
	if err != nil {
		return err
	}

	name := c.node.Name
	return errors.Join(
		setFloat(c.metrics.BondedTokens, p.BondedTokens, "bonded_tokens", name),
		setFloat(c.metrics.NotBondedTokens, p.NotBondedTokens, "not_bonded_tokens", name),
	)
}

// The setters convert before touching the vector so that a bad field never
// creates a series.

func setFloat(vec *prometheus.GaugeVec, v rpc.Scalar, field string, labels ...string) error {
	f, err := v.Float64()
	if err != nil {
		return &rpc.ParseError{Field: field, Err: err}
	}
	vec.WithLabelValues(labels...).Set(f)
	return nil
}

func setInt(vec *prometheus.GaugeVec, v rpc.Scalar, field string, labels ...string) error {
	n, err := v.Int64()
	if err != nil {
		return &rpc.ParseError{Field: field, Err: err}
	}
	vec.WithLabelValues(labels...).Set(float64(n))
	return nil
}

func setSeconds(vec *prometheus.GaugeVec, v rpc.Scalar, field string, labels ...string) error {
	n, err := v.Seconds()
	if err != nil {
		return &rpc.ParseError{Field: field, Err: err}
	}
	vec.WithLabelValues(labels...).Set(float64(n))
	return nil
}

func setBool(vec *prometheus.GaugeVec, v rpc.Scalar, field string, labels ...string) error {
	b, err := v.Bool()
	if err != nil {
		return &rpc.ParseError{Field: field, Err: err}
	}
	value := 0.0
	if b {
		value = 1
	}
	vec.WithLabelValues(labels...).Set(value)
	return nil
}
