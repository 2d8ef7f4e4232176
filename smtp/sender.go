package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
	"github.com/campbell-alarms/engine/internal/logging"
)

// ProductName and ProductVersion are sent in the X-Mailer header,
// mirroring SmtpSender::get_product_name/get_product_version.
var (
	ProductName    = "campbell-alarms-engine"
	ProductVersion = "1.0"
)

// state identifies where in the SMTP dialog a Send currently sits
// (spec §9 "model explicitly as a state-machine", Csi.SmtpSender.h
// state_type). There is no idle/standby state here: a Sender's Send
// method owns one in-flight transaction for its whole lifetime,
// instead of the original's reusable single-instance state field.
type state int

const (
	stateConnecting state = iota
	stateWait220
	stateHeloWait250
	stateStartTLSWait220
	stateEhloWait250
	stateAuthWait235
	stateRcptToWait250
	stateDataWait354
	stateDataWait250
	stateQuitWait221
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateWait220:
		return "wait_220"
	case stateHeloWait250:
		return "helo_wait_250"
	case stateStartTLSWait220:
		return "starttls_wait_220"
	case stateEhloWait250:
		return "ehlo_wait_250"
	case stateAuthWait235:
		return "auth_wait_235"
	case stateRcptToWait250:
		return "rcpt_to_wait_250"
	case stateDataWait354:
		return "data_wait_354"
	case stateDataWait250:
		return "data_wait_250"
	case stateQuitWait221:
		return "quit_wait_221"
	default:
		return "unknown"
	}
}

// Config controls how a Sender dials and times out an SMTP session.
type Config struct {
	DialTimeout  time.Duration
	StepTimeout  time.Duration
	UseTLS       bool
	InsecureSkipVerify bool
}

// DefaultConfig returns the timeouts the original component arms via
// its OneShot timer for each protocol step.
func DefaultConfig() Config {
	return Config{DialTimeout: 10 * time.Second, StepTimeout: 30 * time.Second}
}

// Sender drives one SMTP transaction per Send call over a real TCP
// connection, reporting completion asynchronously and never blocking
// the caller's goroutine (spec §5 "no blocking I/O within a
// callback"): Send spawns its own goroutine and always returns
// immediately.
type Sender struct {
	cfg    Config
	clock  clock.Clock
	logger *logging.Logger
}

// NewSender constructs a Sender. logger may be nil.
func NewSender(cfg Config, c clock.Clock, logger *logging.Logger) *Sender {
	if c == nil {
		c = clock.System{}
	}
	return &Sender{cfg: cfg, clock: c, logger: logger}
}

// Send dials msg.ServerAddress and runs the full SMTP dialog
// (HELO/EHLO, optional STARTTLS, optional AUTH LOGIN, MAIL FROM, RCPT
// TO per recipient, DATA, QUIT), reporting the outcome through
// onComplete on a background goroutine.
func (s *Sender) Send(ctx context.Context, msg Message, onComplete func(Outcome, error)) {
	go func() {
		outcome, err := s.run(ctx, msg)
		if s.logger != nil {
			s.logger.LogSmtpOutcome(ctx, outcome.String(), msg.ServerAddress, err)
		}
		onComplete(outcome, err)
	}()
}

func (s *Sender) run(ctx context.Context, msg Message) (Outcome, error) {
	if err := validateAddress(msg.From); err != nil {
		return OutcomeUnknownFailure, fmt.Errorf("invalid from address: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout())
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", msg.ServerAddress)
	if err != nil {
		return OutcomeConnectionFailed, err
	}
	defer conn.Close()

	sess := &session{conn: conn, r: textproto.NewReader(bufio.NewReader(conn)), timeout: s.stepTimeout()}

	if _, err := sess.expect(stateWait220, "220"); err != nil {
		return OutcomeConnectionFailed, err
	}

	host, _, _ := net.SplitHostPort(msg.ServerAddress)
	if err := sess.send("EHLO " + localName(host)); err != nil {
		return OutcomeConnectionFailed, err
	}
	caps, err := sess.expectMultiline(stateEhloWait250, "250")
	if err != nil {
		if err := sess.send("HELO " + localName(host)); err != nil {
			return OutcomeHeloAckInvalid, err
		}
		if _, err := sess.expect(stateHeloWait250, "250"); err != nil {
			return OutcomeHeloAckInvalid, err
		}
		caps = nil
	}

	if s.cfg.UseTLS && containsCapability(caps, "STARTTLS") {
		if err := sess.send("STARTTLS"); err != nil {
			return OutcomeTLSInitializeFailed, err
		}
		if _, err := sess.expect(stateStartTLSWait220, "220"); err != nil {
			return OutcomeTLSInitializeFailed, err
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, InsecureSkipVerify: s.cfg.InsecureSkipVerify})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return OutcomeTLSInitializeFailed, err
		}
		sess.conn = tlsConn
		sess.r = textproto.NewReader(bufio.NewReader(tlsConn))
		if err := sess.send("EHLO " + localName(host)); err != nil {
			return OutcomeTLSInitializeFailed, err
		}
		caps, err = sess.expectMultiline(stateEhloWait250, "250")
		if err != nil {
			return OutcomeTLSInitializeFailed, err
		}
	}

	if msg.UserName != "" {
		if outcome, err := s.authenticate(sess, msg); err != nil {
			return outcome, err
		}
	}
	_ = caps

	if err := sess.send("MAIL FROM:<" + msg.From + ">"); err != nil {
		return OutcomeUnknownFailure, err
	}
	if _, err := sess.expect(stateRcptToWait250, "250"); err != nil {
		return OutcomeUnknownFailure, err
	}

	recipients := msg.allRecipients()
	if len(recipients) == 0 {
		return OutcomeRecipientAckInvalid, internalerrors.New(internalerrors.ErrCodeSmtpOutcome, "no recipients")
	}
	for _, rcpt := range recipients {
		if err := sess.send("RCPT TO:<" + rcpt + ">"); err != nil {
			return OutcomeRecipientAckInvalid, err
		}
		if _, err := sess.expect(stateRcptToWait250, "250"); err != nil {
			return OutcomeRecipientAckInvalid, err
		}
	}

	if err := sess.send("DATA"); err != nil {
		return OutcomeDataAckInvalid, err
	}
	if _, err := sess.expect(stateDataWait354, "354"); err != nil {
		return OutcomeDataAckInvalid, err
	}

	rendered, err := buildMessage(msg, ProductName, ProductVersion, s.clock.Now())
	if err != nil {
		return OutcomeUnknownFailure, err
	}
	if _, err := conn.Write(dotStuff(rendered)); err != nil {
		return OutcomeDataAckInvalid, err
	}
	if _, err := sess.expect(stateDataWait250, "250"); err != nil {
		return OutcomeDataAckInvalid, err
	}

	_ = sess.send("QUIT")
	_, _ = sess.expect(stateQuitWait221, "221")

	return OutcomeSuccess, nil
}

func (s *Sender) authenticate(sess *session, msg Message) (Outcome, error) {
	if err := sess.send("AUTH LOGIN"); err != nil {
		return OutcomeAuthAckInvalid, err
	}
	if _, err := sess.expect(stateAuthWait235, "334"); err != nil {
		return OutcomeAuthAckInvalid, err
	}
	if err := sess.send(base64Encode(msg.UserName)); err != nil {
		return OutcomeUserNameAckInvalid, err
	}
	if _, err := sess.expect(stateAuthWait235, "334"); err != nil {
		return OutcomeUserNameAckInvalid, err
	}
	if err := sess.send(base64Encode(msg.Password)); err != nil {
		return OutcomePasswordAckInvalid, err
	}
	if _, err := sess.expect(stateAuthWait235, "235"); err != nil {
		return OutcomeAuthorizationFailed, err
	}
	return OutcomeSuccess, nil
}

func (s *Sender) dialTimeout() time.Duration {
	if s.cfg.DialTimeout > 0 {
		return s.cfg.DialTimeout
	}
	return DefaultConfig().DialTimeout
}

func (s *Sender) stepTimeout() time.Duration {
	if s.cfg.StepTimeout > 0 {
		return s.cfg.StepTimeout
	}
	return DefaultConfig().StepTimeout
}

// session wraps one dialog's connection and textproto reader, tracking
// which state a failed expectation occurred in for error context.
type session struct {
	conn    net.Conn
	r       *textproto.Reader
	timeout time.Duration
}

func (s *session) send(line string) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

func (s *session) expect(st state, code string) (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	line, err := s.r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("%s: %w", st, err)
	}
	if !strings.HasPrefix(line, code) {
		return "", fmt.Errorf("%s: unexpected response %q, wanted %s", st, line, code)
	}
	return line, nil
}

func (s *session) expectMultiline(st state, code string) ([]string, error) {
	var lines []string
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		line, err := s.r.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st, err)
		}
		if !strings.HasPrefix(line, code) {
			return nil, fmt.Errorf("%s: unexpected response %q, wanted %s", st, line, code)
		}
		lines = append(lines, line)
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	return lines, nil
}

func containsCapability(lines []string, name string) bool {
	for _, l := range lines {
		if strings.Contains(strings.ToUpper(l), name) {
			return true
		}
	}
	return false
}

func localName(remoteHost string) string {
	if remoteHost == "" {
		return "localhost"
	}
	return remoteHost
}
