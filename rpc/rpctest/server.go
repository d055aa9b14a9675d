// Package rpctest provides a fake Cosmos-SDK REST API for tests.
package rpctest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type route struct {
	status int
	body   string
}

// Server serves canned responses per path and counts requests.
// Unknown paths answer 404.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

func NewServer(t testing.TB) *Server {
	s := &Server{
		routes: make(map[string]route),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// Handle answers path with status and body.
func (s *Server) Handle(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = route{status: status, body: body}
}

// JSON answers path with 200 and body.
func (s *Server) JSON(path, body string) {
	s.Handle(path, http.StatusOK, body)
}

// Hits returns how many requests path has received.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	rt, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rt.status)
	fmt.Fprint(w, rt.body)
}

const (
	NodeInfoPath       = "/cosmos/base/tendermint/v1beta1/node_info"
	LegacyNodeInfoPath = "/node_info"
	LatestBlockPath    = "/cosmos/base/tendermint/v1beta1/blocks/latest"
	BalancesPath       = "/cosmos/bank/v1beta1/balances/"
	ValidatorsPath     = "/cosmos/staking/v1beta1/validators/"
	DistributionPath   = "/cosmos/distribution/v1beta1/params"
	MintPath           = "/cosmos/mint/v1beta1/params"
	SlashingPath       = "/cosmos/slashing/v1beta1/params"
	StakingParamsPath  = "/cosmos/staking/v1beta1/params"
	StakingPoolPath    = "/cosmos/staking/v1beta1/pool"
)

func NodeInfoBody(moniker, network string) string {
	return fmt.Sprintf(`{"default_node_info":{"moniker":%q,"network":%q,"version":"0.38.12"},"application_version":{"name":"bitsong"}}`, moniker, network)
}

func LatestBlockBody(height, chainID string) string {
	return fmt.Sprintf(`{"block_id":{"hash":"AAAA"},"block":{"header":{"chain_id":%q,"height":%q,"time":"2024-05-01T10:00:00Z"}}}`, chainID, height)
}

func BalancesBody(denom, amount string) string {
	return fmt.Sprintf(`{"balances":[{"denom":"ibc/27394FB092D2ECCD56123C74F36E4C1F926001CEADA9CA97EA622B25F41E5EB2","amount":"5"},{"denom":%q,"amount":%q}],"pagination":{"next_key":null,"total":"2"}}`, denom, amount)
}

func ValidatorBody(operator, tokens string) string {
	return fmt.Sprintf(`{"validator":{"operator_address":%q,"jailed":false,"status":"BOND_STATUS_BONDED","tokens":%q,"description":{"moniker":"validator"}}}`, operator, tokens)
}

const (
	DistributionBody = `{"params":{"community_tax":"0.020000000000000000","base_proposer_reward":"0.010000000000000000","bonus_proposer_reward":"0.040000000000000000","withdraw_addr_enabled":true}}`

	MintBody = `{"params":{"mint_denom":"ubtsg","inflation_rate_change":"0.130000000000000000","inflation_max":"0.100000000000000000","inflation_min":"0.070000000000000000","goal_bonded":"0.670000000000000000","blocks_per_year":"6311520"}}`

	SlashingBody = `{"params":{"signed_blocks_window":"10000","min_signed_per_window":"0.050000000000000000","downtime_jail_duration":"600s","slash_fraction_double_sign":"0.050000000000000000","slash_fraction_downtime":"0.000100000000000000"}}`

	StakingParamsBody = `{"params":{"unbonding_time":"1814400s","max_validators":100,"max_entries":7,"historical_entries":10000,"bond_denom":"ubtsg","min_commission_rate":"0.000000000000000000"}}`

	StakingPoolBody = `{"pool":{"not_bonded_tokens":"1638292839116","bonded_tokens":"245118924779634"}}`
)
