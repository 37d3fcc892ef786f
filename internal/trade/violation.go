package trade

import (
	"errors"
	"fmt"
	"time"
)

// Violation codes for rejected timestamp-integrity checks.
const (
	CodeTimestampOnFill   = "TIMESTAMP_VIOLATION_ON_FILL"
	CodeTimestampOnClose  = "TIMESTAMP_VIOLATION_ON_CLOSE"
	CodeTimestampOnCancel = "TIMESTAMP_VIOLATION_ON_CANCEL"
	CodeMissingFilledAt   = "MISSING_FILLED_AT_ON_CLOSE"
)

// ErrInvalidTransition is returned when the requested status change is not
// legal from the trade's current status. Callers hitting it on duplicate
// deliveries treat it as a benign skip.
var ErrInvalidTransition = errors.New("invalid trade status transition")

// Violation is a rejected transition that would have produced a causally
// impossible trade record. The row is left untouched.
type Violation struct {
	Code      string
	TradeID   string
	CreatedAt time.Time
	FilledAt  *time.Time
	At        time.Time
}

func (v *Violation) Error() string {
	if v.FilledAt != nil {
		return fmt.Sprintf("%s: trade %s (created_at=%s filled_at=%s proposed=%s)",
			v.Code, v.TradeID,
			v.CreatedAt.Format(time.RFC3339), v.FilledAt.Format(time.RFC3339), v.At.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: trade %s (created_at=%s proposed=%s)",
		v.Code, v.TradeID, v.CreatedAt.Format(time.RFC3339), v.At.Format(time.RFC3339))
}

// AsViolation unwraps err into a *Violation if one is in the chain.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
