// Package remote defines the boundary to the messaging provider's user API.
//
// Calls never return provider errors as plain Go errors; they return a Result
// whose Kind tells the caller what to do next (retry after Wait, ask for a
// password, stop the batch, ...). Implementations live in subpackages.
package remote

import (
	"context"
	"fmt"
	"time"
)

type Kind int

const (
	OK Kind = iota
	// RateLimited: retry the same call after Result.Wait.
	RateLimited
	// Restricted: the account may not perform the action for now. The account stays valid.
	Restricted
	// PasswordNeeded: the code was accepted but a second factor is required.
	PasswordNeeded
	// InvalidInput: the user supplied a bad phone, code or password. See Reason.
	InvalidInput
	// Fatal: the account or session is unusable (banned, deauthorized).
	Fatal
	// Failed: any other error; the caller may skip and continue.
	Failed
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case RateLimited:
		return "rate_limited"
	case Restricted:
		return "restricted"
	case PasswordNeeded:
		return "password_needed"
	case InvalidInput:
		return "invalid_input"
	case Fatal:
		return "fatal"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonInvalidPhone  Reason = "invalid_phone"
	ReasonInvalidCode   Reason = "invalid_code"
	ReasonCodeExpired   Reason = "code_expired"
	ReasonWrongPassword Reason = "wrong_password"
	ReasonNotRegistered Reason = "not_registered"
	ReasonBanned        Reason = "banned"
	ReasonDeauthorized  Reason = "deauthorized"
	ReasonCanceled      Reason = "canceled"
	ReasonUnknown       Reason = "unknown"
)

// Result is the outcome of one remote call.
type Result struct {
	Kind   Kind
	Reason Reason
	// Wait is set for RateLimited.
	Wait time.Duration
	// Err carries the underlying error for logging. Nil for OK.
	Err error
}

func Ok() Result { return Result{Kind: OK} }

func Fail(kind Kind, reason Reason, err error) Result {
	return Result{Kind: kind, Reason: reason, Err: err}
}

func Limited(wait time.Duration, err error) Result {
	return Result{Kind: RateLimited, Wait: wait, Err: err}
}

func (r Result) OK() bool { return r.Kind == OK }

// Invalidates reports whether the stored credential behind the session is permanently unusable.
func (r Result) Invalidates() bool {
	return r.Kind == Fatal && (r.Reason == ReasonBanned || r.Reason == ReasonDeauthorized)
}

func (r Result) String() string {
	s := r.Kind.String()
	if r.Reason != ReasonNone {
		s += "/" + string(r.Reason)
	}
	if r.Kind == RateLimited {
		s += " wait=" + r.Wait.String()
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// Session is one connection to the provider on behalf of one account.
// A Session is not shared between goroutines except for Disconnect.
type Session interface {
	Connect(ctx context.Context) Result
	// Disconnect is idempotent and safe to call on a never-connected session.
	Disconnect(ctx context.Context)
	Connected() bool

	Authorized(ctx context.Context) (bool, Result)
	// RequestCode sends a login code and returns the correlation hash for SignIn.
	RequestCode(ctx context.Context, phone string) (string, Result)
	SignIn(ctx context.Context, phone, code, hash string) Result
	SignInPassword(ctx context.Context, password string) Result

	CreateGroup(ctx context.Context, members []string, title string) Result

	// Export returns the serialized credential for the vault.
	Export(ctx context.Context) ([]byte, error)
}

// Factory opens sessions. A nil credential starts a fresh, unauthorized session.
type Factory interface {
	New(ctx context.Context, credential []byte) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, credential []byte) (Session, error)

func (f FactoryFunc) New(ctx context.Context, credential []byte) (Session, error) {
	return f(ctx, credential)
}
