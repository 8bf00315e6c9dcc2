// Package outcome defines the closed set of results a transfer can have and
// the retry policy applied to transient failures.
//
// Back-end adapters are the only place that translate driver errors, SQL
// states or HTTP payloads into an Outcome. Everything downstream switches on
// Kind and Reason.
package outcome

import "fmt"

type Kind uint8

const (
	Completed Kind = iota
	Rejected
	Failed
	numKinds
)

// NumKinds is the number of outcome kinds, for sizing counter arrays.
const NumKinds = int(numKinds)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Reason uint8

const (
	None Reason = iota

	// Rejections
	InsufficientBalance
	AccountNotFound
	ConstraintViolation

	// Failures
	SerializationConflict
	ConnectionError
	Other

	numReasons
)

// NumReasons is the number of reasons, None included.
const NumReasons = int(numReasons)

func (r Reason) String() string {
	switch r {
	case None:
		return "none"
	case InsufficientBalance:
		return "insufficient_balance"
	case AccountNotFound:
		return "account_not_found"
	case ConstraintViolation:
		return "constraint_violation"
	case SerializationConflict:
		return "serialization_conflict"
	case ConnectionError:
		return "connection_error"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// ParseReason maps a wire name back to a Reason. Unknown names map to Other.
func ParseReason(s string) Reason {
	for r := None; r < numReasons; r++ {
		if r.String() == s {
			return r
		}
	}
	return Other
}

// Outcome is the classified result of one transfer call.
type Outcome struct {
	Kind   Kind
	Reason Reason
	// Err is the underlying cause of a failure, kept for logging only.
	Err error
}

func Complete() Outcome { return Outcome{Kind: Completed} }

// Reject builds a business-level refusal. Only rejection reasons are
// accepted; anything else is a programming error in the adapter.
func Reject(r Reason) Outcome {
	switch r {
	case InsufficientBalance, AccountNotFound, ConstraintViolation:
		return Outcome{Kind: Rejected, Reason: r}
	}
	panic(fmt.Sprintf("outcome: %s is not a rejection reason", r))
}

// Fail builds a back-end failure.
func Fail(r Reason, err error) Outcome {
	switch r {
	case SerializationConflict, ConnectionError, Other:
		return Outcome{Kind: Failed, Reason: r, Err: err}
	}
	panic(fmt.Sprintf("outcome: %s is not a failure reason", r))
}

// Retryable reports whether the outcome is a transient conflict worth
// another attempt.
func (o Outcome) Retryable() bool {
	return o.Kind == Failed && o.Reason == SerializationConflict
}

// Succeeded is true for outcomes that count towards throughput.
func (o Outcome) Succeeded() bool {
	return o.Kind == Completed || o.Kind == Rejected
}

func (o Outcome) String() string {
	if o.Kind == Completed {
		return o.Kind.String()
	}
	return o.Kind.String() + "(" + o.Reason.String() + ")"
}
