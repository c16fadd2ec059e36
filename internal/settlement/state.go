package settlement

import (
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
)

var transitions = map[enums.SettlementState][]enums.SettlementState{
	enums.SettlementAwaitingCallback: {
		enums.SettlementSucceeded,
		enums.SettlementDeclined,
	},
	enums.SettlementSucceeded: {
		enums.SettlementOrderMaterializing,
		enums.SettlementAlreadyProcessed,
	},
	enums.SettlementOrderMaterializing: {
		enums.SettlementSettled,
		enums.SettlementPendingConfirmation,
		enums.SettlementMaterializationFailed,
		enums.SettlementAlreadyProcessed,
	},
}

// CanTransition reports whether from → to is a legal settlement step.
func CanTransition(from, to enums.SettlementState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// attempt is the state of one Reconcile call.
type attempt struct {
	state enums.SettlementState
}

func newAttempt() *attempt {
	return &attempt{state: enums.SettlementAwaitingCallback}
}

func (a *attempt) advance(to enums.SettlementState) error {
	if !CanTransition(a.state, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal settlement transition").WithDetails(map[string]any{
			"from": a.state.String(),
			"to":   to.String(),
		})
	}
	a.state = to
	return nil
}
