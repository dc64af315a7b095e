package tx

// ErrorKind is the closed set of domain rejection reasons. A rejected
// transaction returns exactly one kind and leaves state untouched.
type ErrorKind int32

const (
	ErrNone ErrorKind = iota
	ErrNotAuthorized
	ErrInvalidArgument
	ErrInsufficientBalance
	ErrLimitExceeded
	ErrReserveExceeded
	ErrAlreadyApplied
	ErrAlreadyCertified
	ErrNoSuchApplication
)

func (e ErrorKind) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrNotAuthorized:
		return "not_authorized"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrInsufficientBalance:
		return "insufficient_balance"
	case ErrLimitExceeded:
		return "limit_exceeded"
	case ErrReserveExceeded:
		return "reserve_exceeded"
	case ErrAlreadyApplied:
		return "already_applied"
	case ErrAlreadyCertified:
		return "already_certified"
	case ErrNoSuchApplication:
		return "no_such_application"
	default:
		return "unknown"
	}
}

// Result is the structured outcome delivered back to the submitter.
// Domain rejections are values, not Go errors: the transaction was
// received, evaluated, and declined.
type Result struct {
	OK  bool
	Err ErrorKind
}

// Accepted is the success result for state-changing operations.
var Accepted = Result{OK: true}

// Rejected builds a failure result carrying the rejection reason.
func Rejected(kind ErrorKind) Result {
	return Result{OK: false, Err: kind}
}
