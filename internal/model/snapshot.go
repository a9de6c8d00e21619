package model

// TickBalances is the persisted form of one ledger: balances plus supply.
type TickBalances struct {
	Balance map[string]string `json:"balance"`
	Supply  string            `json:"supply"`
}

// ContractStatusData is the persisted contract status.
type ContractStatusData struct {
	KLast map[string]string `json:"kLast"`
}

// SnapshotData is the persisted full-state shape: asset class -> tick ->
// balances, plus contract status and the module init the deploy event
// carried.
type SnapshotData struct {
	Assets         map[string]map[string]TickBalances `json:"assets"`
	ContractStatus ContractStatusData                 `json:"contractStatus"`
	Init           *ModuleInit                        `json:"init,omitempty"`
	Cursor         int64                              `json:"cursor"`
	LastCommitID   string                             `json:"lastCommitId"`
}
