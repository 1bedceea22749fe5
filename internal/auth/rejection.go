package auth

import (
	"errors"
	"fmt"
	"time"
)

// Reason classifies why a request was not authenticated or not allowed.
type Reason string

const (
	ReasonNoCredential       Reason = "no_credential"
	ReasonInvalidOrExpired   Reason = "invalid_or_expired"
	ReasonSubjectNotFound    Reason = "subject_not_found"
	ReasonStaleRole          Reason = "stale_role"
	ReasonBanned             Reason = "banned"
	ReasonSameOriginRejected Reason = "same_origin_rejected"
	ReasonRoleNotAllowed     Reason = "role_not_allowed"
)

const signInAgainMessage = "please sign in again"

// Rejection is the expected, recoverable outcome of a failed validation or gate check.
// Tests can assert the exact Reason while users only see PublicMessage.
type Rejection struct {
	Reason      Reason
	BanReason   string
	BannedUntil *time.Time
}

func (r *Rejection) Error() string {
	return "session rejected: " + string(r.Reason)
}

// PublicMessage is the text safe to show to the end user.
// Credential problems are deliberately indistinguishable from one another.
func (r *Rejection) PublicMessage() string {
	switch r.Reason {
	case ReasonBanned:
		msg := "your account has been banned"
		if r.BanReason != "" {
			msg += ". Reason: " + r.BanReason
		}
		if r.BannedUntil != nil {
			return fmt.Sprintf("%s. Banned until %s", msg, r.BannedUntil.UTC().Format(time.RFC3339))
		}
		return msg + ". Permanent ban"
	case ReasonSameOriginRejected, ReasonRoleNotAllowed:
		return "access denied"
	default:
		return signInAgainMessage
	}
}

func reject(reason Reason) *Rejection {
	return &Rejection{Reason: reason}
}

// AsRejection unwraps a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
