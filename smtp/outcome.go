// Package smtp implements a non-blocking SMTP client state machine for
// the alarms engine's email action, with an HTTP gateway fallback for
// environments that cannot reach an SMTP server directly (spec §4.6,
// §9 "model explicitly as a state-machine").
package smtp

// Outcome describes why a Send completed, mirroring the original
// SmtpSenderClient::outcome_type enum (Csi.SmtpSender.h).
type Outcome int

const (
	OutcomeUnknownFailure Outcome = iota
	OutcomeSuccess
	OutcomeConnectionFailed
	OutcomeAuthorizationFailed
	OutcomeTLSInitializeFailed
	OutcomeDataAckInvalid
	OutcomeRecipientAckInvalid
	OutcomePasswordAckInvalid
	OutcomeUserNameAckInvalid
	OutcomeAuthAckInvalid
	OutcomeStartTLSAckInvalid
	OutcomeHeloAckInvalid
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectionFailed:
		return "connection_failed"
	case OutcomeAuthorizationFailed:
		return "authorization_failed"
	case OutcomeTLSInitializeFailed:
		return "tls_initialize_failed"
	case OutcomeDataAckInvalid:
		return "data_ack_invalid"
	case OutcomeRecipientAckInvalid:
		return "recipient_ack_invalid"
	case OutcomePasswordAckInvalid:
		return "password_ack_invalid"
	case OutcomeUserNameAckInvalid:
		return "user_name_ack_invalid"
	case OutcomeAuthAckInvalid:
		return "auth_ack_invalid"
	case OutcomeStartTLSAckInvalid:
		return "starttls_ack_invalid"
	case OutcomeHeloAckInvalid:
		return "helo_ack_invalid"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown_failure"
	}
}

// Success reports whether the outcome represents a completed send.
func (o Outcome) Success() bool { return o == OutcomeSuccess }
