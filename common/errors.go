package common

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"
)

var (
	ErrPartialRead         = xerrors.New("partial read")
	ErrTransactionRejected = xerrors.New("transaction rejected")
	ErrPaymentGateway      = xerrors.New("payment gateway error")
	ErrInconsistentState   = xerrors.New("inconsistent state")
)

// PartialReadError reports the first field read that failed while assembling
// an entity. The entity itself is discarded.
type PartialReadError struct {
	Address address.Address
	Field   string
	Err     error
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("partial read of %s field %s: %v", e.Address, e.Field, e.Err)
}

func (e *PartialReadError) Unwrap() error { return e.Err }

func (e *PartialReadError) Is(target error) bool { return target == ErrPartialRead }

// Stage names the pipeline step an error surfaced from.
type Stage string

const (
	StageRead      Stage = "read"
	StageClose     Stage = "close"
	StageSettle    Stage = "settle"
	StagePayout    Stage = "payout"
	StageReconcile Stage = "reconcile"
	StageClear     Stage = "clear"
	StageSubmit    Stage = "submit"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage tags err with stage unless it already carries one.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if xerrors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// Kind returns the taxonomy sentinel err matches, or nil for anything else.
func Kind(err error) error {
	for _, k := range []error{ErrPartialRead, ErrTransactionRejected, ErrPaymentGateway, ErrInconsistentState} {
		if xerrors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName names the kind of err for logs.
func KindName(err error) string {
	if k := Kind(err); k != nil {
		return k.Error()
	}
	return "unclassified"
}
