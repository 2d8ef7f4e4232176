package smtp

// Attachment is a single email attachment, either read from disk or
// supplied inline (spec §4.4, SmtpHelpers::attachment_type).
type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
	Path        string
}

// Message is one outbound email, fully rendered (subject/body already
// expanded) and ready to hand to a Sender or the gateway client.
type Message struct {
	ServerAddress string
	UserName      string
	Password      string
	UseGateway    bool
	GatewayURL    string

	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string

	Subject     string
	Body        string
	Attachments []Attachment
}

// allRecipients returns To, Cc, and Bcc concatenated in that order,
// the envelope-recipient order the original RCPT TO loop uses
// (Csi.SmtpSender.h to_index/cc_index/bcc_index).
func (m Message) allRecipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}
