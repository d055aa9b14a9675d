// Package metrics owns the Prometheus registry and every vector the exporter
// publishes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orbit_metrics"

const description = "Cosmos-SDK chain metrics exporter"

// Metrics is the registry plus its vectors. Vectors are created and
// registered once; series are overwritten on every collection and never
// expire.
type Metrics struct {
	registry *prometheus.Registry

	// chain
	ChainHeight *prometheus.GaugeVec

	// wallets and validators
	WalletBalance  *prometheus.GaugeVec
	ValidatorStake *prometheus.GaugeVec

	// distribution
	CommunityTax        *prometheus.GaugeVec
	BaseProposerReward  *prometheus.GaugeVec
	BonusProposerReward *prometheus.GaugeVec
	WithdrawAddrEnabled *prometheus.GaugeVec

	// mint
	InflationRateChange *prometheus.GaugeVec
	InflationMax        *prometheus.GaugeVec
	InflationMin        *prometheus.GaugeVec
	GoalBonded          *prometheus.GaugeVec
	BlocksPerYear       *prometheus.GaugeVec

	// slashing
	SignedBlocksWindow      *prometheus.GaugeVec
	MinSignedPerWindow      *prometheus.GaugeVec
	DowntimeJailDuration    *prometheus.GaugeVec
	SlashFractionDoubleSign *prometheus.GaugeVec
	SlashFractionDowntime   *prometheus.GaugeVec

	// staking
	UnbondingTime     *prometheus.GaugeVec
	MaxValidators     *prometheus.GaugeVec
	MaxEntries        *prometheus.GaugeVec
	HistoricalEntries *prometheus.GaugeVec
	BondedTokens      *prometheus.GaugeVec
	NotBondedTokens   *prometheus.GaugeVec

	// exporter
	LastScrapeDuration prometheus.Gauge
	Up                 *prometheus.GaugeVec
	ScrapeFailures     *prometheus.CounterVec
	APIRequestDuration *prometheus.GaugeVec
	APIRequests        *prometheus.CounterVec
	Info               *prometheus.GaugeVec
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// New builds a fresh registry with all exporter vectors, the Go and process
// collectors, and the info gauge set to 1.
func New(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ChainHeight: gauge("chain_height", "Latest block height", "chain", "chain_id", "host"),

		WalletBalance:  gauge("wallet_balance", "Wallet balance in the main denom", "chain", "chain_id", "wallet", "type"),
		ValidatorStake: gauge("validator_stake", "Tokens bonded to the validator", "chain", "chain_id", "validator"),

		CommunityTax:        gauge("community_tax", "Distribution community tax", "chain"),
		BaseProposerReward:  gauge("base_proposer_reward", "Distribution base proposer reward", "chain"),
		BonusProposerReward: gauge("bonus_proposer_reward", "Distribution bonus proposer reward", "chain"),
		WithdrawAddrEnabled: gauge("withdraw_addr_enabled", "Whether withdraw address changes are enabled (1/0)", "chain"),

		InflationRateChange: gauge("inflation_rate_change", "Mint inflation rate change", "chain", "mint_denom"),
		InflationMax:        gauge("inflation_max", "Mint maximum inflation", "chain", "mint_denom"),
		InflationMin:        gauge("inflation_min", "Mint minimum inflation", "chain", "mint_denom"),
		GoalBonded:          gauge("goal_bonded", "Mint goal bonded ratio", "chain", "mint_denom"),
		BlocksPerYear:       gauge("blocks_per_year", "Mint expected blocks per year", "chain", "mint_denom"),

		SignedBlocksWindow:      gauge("signed_blocks_window", "Slashing signed blocks window", "chain"),
		MinSignedPerWindow:      gauge("min_signed_per_window", "Slashing minimum signed per window", "chain"),
		DowntimeJailDuration:    gauge("downtime_jail_duration", "Slashing downtime jail duration in seconds", "chain"),
		SlashFractionDoubleSign: gauge("slash_fraction_double_sign", "Slashing fraction for double signing", "chain"),
		SlashFractionDowntime:   gauge("slash_fraction_downtime", "Slashing fraction for downtime", "chain"),

		UnbondingTime:     gauge("unbonding_time", "Staking unbonding time in seconds", "chain", "bond_denom"),
		MaxValidators:     gauge("max_validators", "Staking maximum number of validators", "chain", "bond_denom"),
		MaxEntries:        gauge("max_entries", "Staking maximum unbonding entries", "chain", "bond_denom"),
		HistoricalEntries: gauge("historical_entries", "Staking historical entries", "chain", "bond_denom"),
		BondedTokens:      gauge("bonded_tokens", "Staking pool bonded tokens", "chain"),
		NotBondedTokens:   gauge("not_bonded_tokens", "Staking pool not bonded tokens", "chain"),

		LastScrapeDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scrape_duration_seconds",
			Help:      "Duration of the last collection cycle",
		}),
		Up:                 gauge("up", "Whether the last collection of the node returned any data (1/0)", "chain"),
		ScrapeFailures:     counter("scrape_failures_total", "Failed collection operations", "chain"),
		APIRequestDuration: gauge("api_request_duration_seconds", "Duration of the last upstream request", "chain", "endpoint"),
		APIRequests:        counter("api_requests_total", "Upstream requests by status", "chain", "endpoint", "status"),
		Info:               gauge("info", "Exporter information", "version", "description"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		m.ChainHeight,
		m.WalletBalance,
		m.ValidatorStake,
		m.CommunityTax,
		m.BaseProposerReward,
		m.BonusProposerReward,
		m.WithdrawAddrEnabled,
		m.InflationRateChange,
		m.InflationMax,
		m.InflationMin,
		m.GoalBonded,
		m.BlocksPerYear,
		m.SignedBlocksWindow,
		m.MinSignedPerWindow,
		m.DowntimeJailDuration,
		m.SlashFractionDoubleSign,
		m.SlashFractionDowntime,
		m.UnbondingTime,
		m.MaxValidators,
		m.MaxEntries,
		m.HistoricalEntries,
		m.BondedTokens,
		m.NotBondedTokens,
		m.LastScrapeDuration,
		m.Up,
		m.ScrapeFailures,
		m.APIRequestDuration,
		m.APIRequests,
		m.Info,
	)

	m.Info.WithLabelValues(version, description).Set(1)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestObserver returns an observer that records upstream requests of one
// chain.
func (m *Metrics) RequestObserver(chain string) *RequestObserver {
	return &RequestObserver{metrics: m, chain: chain}
}

type RequestObserver struct {
	metrics *Metrics
	chain   string
}

func (o *RequestObserver) ObserveRequest(endpoint, status string, duration time.Duration) {
	o.metrics.APIRequests.WithLabelValues(o.chain, endpoint, status).Inc()
	o.metrics.APIRequestDuration.WithLabelValues(o.chain, endpoint).Set(duration.Seconds())
}
