// Package model defines the wire and replay types shared across the
// sequencer: feed events, decoded user functions, commits, verification
// results and persisted snapshots.
package model

import (
	"encoding/json"
	"math"
)

// EventKind discriminates feed events.
type EventKind string

const (
	EventDeploy                     EventKind = "deploy"
	EventTransfer                   EventKind = "transfer"
	EventWithdraw                   EventKind = "withdraw"
	EventApprove                    EventKind = "approve"
	EventConditionalApprove         EventKind = "conditionalApprove"
	EventInscribeApprove            EventKind = "inscribeApprove"
	EventInscribeConditionalApprove EventKind = "inscribeConditionalApprove"
	EventCommit                     EventKind = "commit"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventDeploy, EventTransfer, EventWithdraw, EventApprove,
		EventConditionalApprove, EventInscribeApprove,
		EventInscribeConditionalApprove, EventCommit:
		return true
	}
	return false
}

// PendingCursor marks a speculative event that has no feed position yet.
const PendingCursor int64 = -1

// UnconfirmedHeight marks an event seen in the mempool but not yet mined.
const UnconfirmedHeight uint64 = math.MaxUint64

// OpEvent is one record of the external chain feed.
type OpEvent struct {
	Cursor            int64           `json:"cursor"`
	Height            uint64          `json:"height"`
	Kind              EventKind       `json:"type"`
	TxID              string          `json:"txid"`
	InscriptionID     string          `json:"inscription_id"`
	InscriptionNumber int64           `json:"inscription_number"`
	From              string          `json:"from"`
	To                string          `json:"to"`
	ContentBody       json.RawMessage `json:"content_body"`
	BlockTime         int64           `json:"blocktime"`
	Valid             bool            `json:"valid"`
	Data              *EventData      `json:"data,omitempty"`
}

// EventData carries side-channel values not present in the inscription
// body, such as the settled amount of an approval.
type EventData struct {
	Amount string `json:"amount,omitempty"`
}

// Confirmations returns how many blocks deep the event is at best height,
// zero when unmined or ahead of the tip.
func (e *OpEvent) Confirmations(best uint64) uint64 {
	if e.Height == UnconfirmedHeight || e.Height > best {
		return 0
	}
	return best - e.Height + 1
}

// ModuleInit is the deploy payload body configuring the module instance.
type ModuleInit struct {
	Sequencer   string `json:"sequencer"`
	FeeTo       string `json:"fee_to"`
	GasTo       string `json:"gas_to"`
	GasTick     string `json:"gas_tick"`
	SwapFeeRate string `json:"swap_fee_rate"`
}

// DeployPayload is the content body of a deploy event.
type DeployPayload struct {
	Op   string     `json:"op"`
	Init ModuleInit `json:"init"`
}

// TransferPayload is the content body of transfer, withdraw and approval
// events.
type TransferPayload struct {
	Op   string `json:"op"`
	Tick string `json:"tick"`
	Amt  string `json:"amt"`
}

// CommitPayload is the content body of a commit inscription.
type CommitPayload struct {
	Op       string       `json:"op"`
	Module   string       `json:"module"`
	Parent   string       `json:"parent"`
	Quit     string       `json:"quit"`
	GasPrice string       `json:"gas_price"`
	Data     []CommitFunc `json:"data"`
}
