package api

import (
	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/pkg/types"
)

// NextAction tells the host what to do with the proposed call.
type NextAction string

const (
	ActionProceed          NextAction = "proceed"
	ActionPauseForApproval NextAction = "pause_for_approval"
	ActionBlock            NextAction = "block"
)

// DetermineNextAction maps a decision to the host's next step. A confirm
// without an override ticket cannot be approved and is blocked.
func DetermineNextAction(res policy.Result) NextAction {
	switch res.Decision {
	case policy.Allow:
		return ActionProceed
	case policy.Confirm:
		if res.Override == nil {
			return ActionBlock
		}
		return ActionPauseForApproval
	default:
		return ActionBlock
	}
}

// ReceiptStatusFor is the receipt status recorded for a next action.
func ReceiptStatusFor(action NextAction) types.ReceiptStatus {
	switch action {
	case ActionProceed:
		return types.ReceiptProceed
	case ActionPauseForApproval:
		return types.ReceiptPausedOnApproval
	default:
		return types.ReceiptBlocked
	}
}
