package smtp

import "testing"

func TestOutcomeStringKnownValues(t *testing.T) {
	cases := []struct {
		o    Outcome
		want string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeConnectionFailed, "connection_failed"},
		{OutcomeAuthorizationFailed, "authorization_failed"},
		{OutcomeTLSInitializeFailed, "tls_initialize_failed"},
		{OutcomeDataAckInvalid, "data_ack_invalid"},
		{OutcomeRecipientAckInvalid, "recipient_ack_invalid"},
		{OutcomePasswordAckInvalid, "password_ack_invalid"},
		{OutcomeUserNameAckInvalid, "user_name_ack_invalid"},
		{OutcomeAuthAckInvalid, "auth_ack_invalid"},
		{OutcomeStartTLSAckInvalid, "starttls_ack_invalid"},
		{OutcomeHeloAckInvalid, "helo_ack_invalid"},
		{OutcomeTimedOut, "timed_out"},
		{Outcome(999), "unknown_failure"},
	}
	for _, c := range cases {
		if got := c.o.String(); got != c.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", c.o, got, c.want)
		}
	}
}

func TestOutcomeSuccess(t *testing.T) {
	if !OutcomeSuccess.Success() {
		t.Fatal("OutcomeSuccess.Success() = false")
	}
	if OutcomeConnectionFailed.Success() {
		t.Fatal("OutcomeConnectionFailed.Success() = true")
	}
}
