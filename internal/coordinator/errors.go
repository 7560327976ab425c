package coordinator

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/charmbracelet/x/ansi"
)

var (
	ErrAlreadyActive  = errors.New("account already has a live session")
	ErrNotFound       = errors.New("no session for account")
	ErrNotActive      = errors.New("session is not active")
	ErrNoValidItems   = errors.New("no valid activity ids provided")
	ErrLoginTimeout   = errors.New("login attempt timed out")
	ErrStaleChallenge = errors.New("no pending challenge for account")
	ErrRemote         = errors.New("remote error")
	ErrPersistence    = errors.New("persistence failure")
	ErrShuttingDown   = errors.New("coordinator is shutting down")

	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind is the coarse error taxonomy surfaced to callers and in
// notifications.
type ErrorKind string

const (
	KindAlreadyActive  ErrorKind = "already_active"
	KindNotFound       ErrorKind = "not_found"
	KindNotActive      ErrorKind = "not_active"
	KindNoValidItems   ErrorKind = "no_valid_items"
	KindLoginTimeout   ErrorKind = "login_timeout"
	KindStaleChallenge ErrorKind = "stale_challenge"
	KindRemote         ErrorKind = "remote_error"
	KindPersistence    ErrorKind = "persistence_failure"
	KindShuttingDown   ErrorKind = "shutting_down"
	KindInvalid        ErrorKind = "invalid_argument"
	KindInternal       ErrorKind = "internal"
)

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyActive):
		return KindAlreadyActive
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotActive):
		return KindNotActive
	case errors.Is(err, ErrNoValidItems):
		return KindNoValidItems
	case errors.Is(err, ErrLoginTimeout):
		return KindLoginTimeout
	case errors.Is(err, ErrStaleChallenge):
		return KindStaleChallenge
	case errors.Is(err, ErrRemote):
		return KindRemote
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrShuttingDown):
		return KindShuttingDown
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalid
	default:
		return KindInternal
	}
}

// RemoteErrorKind is a best-effort classification of a remote failure
// message. It only decides the shape of the outbound notification.
type RemoteErrorKind string

const (
	RemoteCredentialInvalid      RemoteErrorKind = "credential_invalid"
	RemoteChallengeInvalid       RemoteErrorKind = "challenge_invalid"
	RemoteChallengeRequiredRetry RemoteErrorKind = "challenge_required_retry"
	RemoteRateLimited            RemoteErrorKind = "rate_limited"
	RemoteUnknown                RemoteErrorKind = "unknown"
)

// RetryWithChallenge reports whether the caller should retry the login
// supplying a challenge response.
func (k RemoteErrorKind) RetryWithChallenge() bool {
	return k == RemoteChallengeInvalid || k == RemoteChallengeRequiredRetry
}

// RemoteError is an asynchronous failure raised by the remote capability.
type RemoteError struct {
	Kind    RemoteErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "remote error"
	}
	if e.Message == "" {
		return fmt.Sprintf("remote error (%s)", e.Kind)
	}
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// NewRemoteError classifies msg and wraps it.
func NewRemoteError(msg string) *RemoteError {
	return &RemoteError{Kind: ClassifyRemoteError(msg), Message: msg}
}

// Patterns for classifying remote failure messages. Order matters: the
// challenge patterns are checked before the generic credential ones because
// remote messages such as "InvalidLoginAuthCode" contain both.
var remotePatterns = []struct {
	kind RemoteErrorKind
	re   *regexp.Regexp
}{
	{RemoteChallengeInvalid, regexp.MustCompile(`(?i)(TwoFactorCodeMismatch|InvalidLoginAuthCode|invalid (two.?factor|guard|auth) code|code mismatch|expired code)`)},
	{RemoteChallengeRequiredRetry, regexp.MustCompile(`(?i)(AccountLoginDeniedNeedTwoFactor|AccountLogonDenied|need(s)? two.?factor|steam ?guard|challenge required)`)},
	{RemoteRateLimited, regexp.MustCompile(`(?i)(RateLimitExceeded|rate.?limit|too many (login )?(attempts|requests)|AccountLoginDeniedThrottle)`)},
	{RemoteCredentialInvalid, regexp.MustCompile(`(?i)(InvalidPassword|invalid password|invalid credentials|InvalidName|AccountNotFound|incorrect (password|username))`)},
}

// ClassifyRemoteError derives a RemoteErrorKind from a free-text message.
// Terminal escape sequences are stripped before matching.
func ClassifyRemoteError(msg string) RemoteErrorKind {
	normalized := ansi.Strip(msg)
	for _, p := range remotePatterns {
		if p.re.MatchString(normalized) {
			return p.kind
		}
	}
	return RemoteUnknown
}
