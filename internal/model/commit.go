package model

import "encoding/json"

// Commit is an ordered batch of user operations published as one
// inscription. Commits chain by Parent.
type Commit struct {
	Op       string       `json:"op"`
	Module   string       `json:"module"`
	Parent   string       `json:"parent"`
	Quit     string       `json:"quit"`
	GasPrice string       `json:"gas_price"`
	Data     []CommitFunc `json:"data"`
}

// NewCommit starts an empty commit chained to parent.
func NewCommit(module, parent, gasPrice string) *Commit {
	return &Commit{
		Op:       "commit",
		Module:   module,
		Parent:   parent,
		GasPrice: gasPrice,
		Data:     []CommitFunc{},
	}
}

// Marshal renders the commit inscription body.
func (c *Commit) Marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Result is a read-only projection of the balances a function touched,
// taken for cross-verification. It never drives state transitions.
type Result struct {
	Users []UserBalance `json:"users,omitempty"`
	Pools []PoolState   `json:"pools,omitempty"`
}

// UserBalance is one user's swap-class balance of one tick.
type UserBalance struct {
	Address string `json:"address"`
	Tick    string `json:"tick"`
	Balance string `json:"balance"`
}

// PoolState is one pool's reserves and LP supply.
type PoolState struct {
	Pair     string `json:"pair"`
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
	LP       string `json:"lp"`
}

// ExecResult is what executing one function yields: projections taken
// immediately before and after, the function outputs, and the gas charged.
type ExecResult struct {
	PreResult Result            `json:"pre_result"`
	Result    Result            `json:"result"`
	Out       map[string]string `json:"out,omitempty"`
	Gas       string            `json:"gas"`
}

// VerifyRequest is the payload sent to the external verifier.
type VerifyRequest struct {
	Commits []string `json:"commits"`
	Results []Result `json:"results"`
}

// VerifyResponse is the external verifier's judgement.
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	Critical bool   `json:"critical"`
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Message  string `json:"message,omitempty"`
}
