package mtproto

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"groupbot/internal/remote"
)

var (
	restrictedErrors   = []string{"USER_RESTRICTED", "PEER_FLOOD", "CHAT_WRITE_FORBIDDEN", "USER_BANNED_IN_CHANNEL"}
	deauthorizedErrors = []string{
		"AUTH_KEY_UNREGISTERED", "AUTH_KEY_INVALID", "AUTH_KEY_PERM_EMPTY",
		"SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED", "USER_DEACTIVATED_BAN",
	}
)

// Classify maps a gotd error to a remote.Result.
func Classify(err error) remote.Result {
	if err == nil {
		return remote.Ok()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return remote.Fail(remote.Fatal, remote.ReasonCanceled, err)
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return remote.Limited(d, err)
	}
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == 420 {
		return remote.Limited(time.Duration(rpcErr.Argument)*time.Second, err)
	}

	if errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
		return remote.Fail(remote.PasswordNeeded, remote.ReasonNone, err)
	}
	if errors.Is(err, auth.ErrPasswordInvalid) || tgerr.Is(err, "PASSWORD_HASH_INVALID") {
		return remote.Fail(remote.InvalidInput, remote.ReasonWrongPassword, err)
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return remote.Fail(remote.InvalidInput, remote.ReasonNotRegistered, err)
	}

	switch {
	case tgerr.Is(err, "PHONE_NUMBER_INVALID"):
		return remote.Fail(remote.InvalidInput, remote.ReasonInvalidPhone, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return remote.Fail(remote.InvalidInput, remote.ReasonInvalidCode, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return remote.Fail(remote.InvalidInput, remote.ReasonCodeExpired, err)
	case tgerr.Is(err, "PHONE_NUMBER_BANNED"):
		return remote.Fail(remote.Fatal, remote.ReasonBanned, err)
	case tgerr.Is(err, deauthorizedErrors...):
		return remote.Fail(remote.Fatal, remote.ReasonDeauthorized, err)
	case tgerr.Is(err, restrictedErrors...):
		return remote.Fail(remote.Restricted, remote.ReasonNone, err)
	}
	return remote.Fail(remote.Failed, remote.ReasonUnknown, err)
}
