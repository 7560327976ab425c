package coordinator

import (
	"context"
	"time"
)

// Credentials are the secrets used to open a remote session.
type Credentials struct {
	Username string
	Password string
	// TwoFactorCode is an optional challenge code supplied up-front.
	TwoFactorCode string
}

// RemoteEventKind identifies what a remote capability is reporting.
type RemoteEventKind int

const (
	EventAuthenticated RemoteEventKind = iota
	EventChallengeRequired
	EventError
	EventExternalDisconnect
)

func (k RemoteEventKind) String() string {
	switch k {
	case EventAuthenticated:
		return "authenticated"
	case EventChallengeRequired:
		return "challenge_required"
	case EventError:
		return "error"
	case EventExternalDisconnect:
		return "external_disconnect"
	default:
		return "unknown"
	}
}

// RemoteEvent is one significant state change raised by a remote capability.
type RemoteEvent struct {
	Kind RemoteEventKind

	// Identity is set for EventAuthenticated.
	Identity string

	// Challenge and Resume are set for EventChallengeRequired.
	Challenge ChallengeKind
	Resume    ResumeFunc

	// Message is set for EventError.
	Message string
}

// Dialer opens single-account remote capabilities.
type Dialer interface {
	Open(ctx context.Context, accountID string, creds Credentials) (Remote, error)
}

// Remote is an opaque, stateful connection for one account. Events are
// delivered in the order the remote raises them; closing the channel means
// the connection is gone.
type Remote interface {
	Events() <-chan RemoteEvent
	ApplyActivity(ctx context.Context, items []int) error
	EndSession(ctx context.Context) error
	Close() error
}

// AccountStatus is the presence persisted for an account.
type AccountStatus string

const (
	AccountOnline  AccountStatus = "online"
	AccountOffline AccountStatus = "offline"
)

// Store persists session history. Calls are best-effort: failures are logged
// and never undo an in-memory transition.
type Store interface {
	RecordSessionStart(ctx context.Context, accountID, sessionID, identity string) error
	RecordSessionEnd(ctx context.Context, sessionID string) error
	RecordActivityStart(ctx context.Context, accountID, sessionID string, items []int) error
	RecordActivityEnd(ctx context.Context, accountID string) error
	SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error
}

// Notification names sent to the outbound channel.
const (
	NotifyLoginSuccess       = "loginSuccess"
	NotifyLoginError         = "loginError"
	NotifyLoginTimeout       = "loginTimeout"
	NotifyChallengeRequired  = "challengeRequired"
	NotifyChallengeSubmitted = "challengeSubmitted"
	NotifyDisconnected       = "disconnected"
	NotifySessionStopped     = "sessionStopped"
	NotifyActivityStarted    = "activityStarted"
	NotifyActivityStopped    = "activityStopped"
	NotifyStatusUpdate       = "statusUpdate"
)

// Notification is a fire-and-forget event for the outbound channel.
type Notification struct {
	Name               string          `json:"name"`
	AccountID          string          `json:"account_id,omitempty"`
	SessionID          string          `json:"session_id,omitempty"`
	Identity           string          `json:"identity,omitempty"`
	ErrorKind          ErrorKind       `json:"error_kind,omitempty"`
	RemoteKind         RemoteErrorKind `json:"remote_kind,omitempty"`
	Error              string          `json:"error,omitempty"`
	RetryWithChallenge bool            `json:"retry_with_challenge,omitempty"`
	ChallengeKind      ChallengeKind   `json:"challenge_kind,omitempty"`
	Activity           []int           `json:"activity,omitempty"`
	PreviousActivity   []int           `json:"previous_activity,omitempty"`
	Uptime             time.Duration   `json:"uptime,omitempty"`
	Message            string          `json:"message,omitempty"`
	Sessions           []Snapshot      `json:"sessions,omitempty"`
	Time               time.Time       `json:"time"`
}

// Notifier receives outbound notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
