package lending

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

func (e *Engine) requireOperator(caller crypto.Address) error {
	if caller.IsZero() {
		return errMissingCaller
	}
	if !e.operator.Equal(caller) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) settings() Settings {
	return Settings{Operator: e.operator, Params: e.params.Clone(), Pauses: e.pauses}
}

// applySettings persists next and only then swaps it into the engine.
func (e *Engine) applySettings(next Settings) error {
	if err := e.state.LendingCommit(&StateUpdate{Settings: &next}); err != nil {
		return err
	}
	e.operator = next.Operator
	e.params = next.Params.Clone()
	e.pauses = next.Pauses
	return nil
}

// SetPrices replaces both unit prices. They take effect for every loan
// immediately.
func (e *Engine) SetPrices(caller crypto.Address, assetPrice, collateralPrice *uint256.Int) error {
	release, err := e.begin("")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	next := e.settings()
	next.Params.AssetPrice = cloneAmount(assetPrice)
	next.Params.CollateralPrice = cloneAmount(collateralPrice)
	if err := next.Params.Validate(); err != nil {
		return err
	}
	if err := e.applySettings(next); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent(caller, e.params))
	return nil
}

// SetLTV replaces the loan-to-value ratio. A value of zero disables new
// borrowing and makes every open loan liquidatable.
func (e *Engine) SetLTV(caller crypto.Address, ltv *uint256.Int) error {
	release, err := e.begin("")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	next := e.settings()
	next.Params.LoanToValue = cloneAmount(ltv)
	if err := next.Params.Validate(); err != nil {
		return err
	}
	if err := e.applySettings(next); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent(caller, e.params))
	return nil
}

// SetPauses replaces the action pause switches.
func (e *Engine) SetPauses(caller crypto.Address, pauses ActionPauses) error {
	release, err := e.begin("")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	next := e.settings()
	next.Pauses = pauses
	if err := e.applySettings(next); err != nil {
		return err
	}
	e.emit(NewPausesUpdatedEvent(caller, pauses))
	return nil
}

// TransferOperator hands the operator role to next.
func (e *Engine) TransferOperator(caller, next crypto.Address) error {
	release, err := e.begin("")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return errInvalidOp
	}
	settings := e.settings()
	previous := settings.Operator
	settings.Operator = next
	if err := e.applySettings(settings); err != nil {
		return err
	}
	e.emit(NewOperatorUpdatedEvent(previous, next))
	return nil
}

// Params returns a copy of the current risk parameters.
func (e *Engine) Params() RiskParameters {
	if e == nil {
		return RiskParameters{}
	}
	return e.params.Clone()
}

// Operator returns the address allowed to withdraw and change parameters.
func (e *Engine) Operator() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.operator
}

// Pauses returns the current action pause switches.
func (e *Engine) Pauses() ActionPauses {
	if e == nil {
		return ActionPauses{}
	}
	return e.pauses
}
