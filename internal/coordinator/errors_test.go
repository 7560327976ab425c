package coordinator

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyRemoteError(t *testing.T) {
	tests := []struct {
		msg  string
		want RemoteErrorKind
	}{
		{"InvalidPassword", RemoteCredentialInvalid},
		{"Error: invalid credentials for user", RemoteCredentialInvalid},
		{"TwoFactorCodeMismatch", RemoteChallengeInvalid},
		{"InvalidLoginAuthCode", RemoteChallengeInvalid},
		{"AccountLoginDeniedNeedTwoFactor", RemoteChallengeRequiredRetry},
		{"AccountLogonDenied", RemoteChallengeRequiredRetry},
		{"Steam Guard code required", RemoteChallengeRequiredRetry},
		{"RateLimitExceeded", RemoteRateLimited},
		{"too many login attempts", RemoteRateLimited},
		{"\x1b[31mInvalidPassword\x1b[0m", RemoteCredentialInvalid},
		{"ServiceUnavailable", RemoteUnknown},
		{"", RemoteUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifyRemoteError(tt.msg); got != tt.want {
				t.Errorf("ClassifyRemoteError(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestRemoteErrorKind_RetryWithChallenge(t *testing.T) {
	retry := map[RemoteErrorKind]bool{
		RemoteCredentialInvalid:      false,
		RemoteChallengeInvalid:       true,
		RemoteChallengeRequiredRetry: true,
		RemoteRateLimited:            false,
		RemoteUnknown:                false,
	}
	for kind, want := range retry {
		if got := kind.RetryWithChallenge(); got != want {
			t.Errorf("%s.RetryWithChallenge() = %v, want %v", kind, got, want)
		}
	}
}

func TestRemoteError_Unwrap(t *testing.T) {
	err := fmt.Errorf("login: %w", NewRemoteError("InvalidPassword"))

	if !errors.Is(err, ErrRemote) {
		t.Error("RemoteError should unwrap to ErrRemote")
	}
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatal("errors.As should find *RemoteError")
	}
	if rerr.Kind != RemoteCredentialInvalid {
		t.Errorf("Kind = %s, want %s", rerr.Kind, RemoteCredentialInvalid)
	}
	if KindOf(err) != KindRemote {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindRemote)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("%w: acct", ErrAlreadyActive), KindAlreadyActive},
		{fmt.Errorf("%w: acct", ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: acct", ErrNotActive), KindNotActive},
		{ErrNoValidItems, KindNoValidItems},
		{ErrLoginTimeout, KindLoginTimeout},
		{ErrStaleChallenge, KindStaleChallenge},
		{ErrPersistence, KindPersistence},
		{ErrShuttingDown, KindShuttingDown},
		{ErrInvalidArgument, KindInvalid},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
