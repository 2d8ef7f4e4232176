package smtp

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"time"
)

// buildMessage renders msg as a complete RFC 5322 document: headers,
// plain-text body, and (if any attachments are present) a
// multipart/mixed MIME envelope (spec §4.4 "attachments").
func buildMessage(msg Message, productName, productVersion string, now time.Time) ([]byte, error) {
	if len(msg.Attachments) == 0 {
		var buf bytes.Buffer
		writeCommonHeaders(&buf, msg, productName, productVersion, now)
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		buf.WriteString("\r\n")
		buf.WriteString(msg.Body)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	bodyPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := bodyPart.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		content := att.Content
		if len(content) == 0 && att.Path != "" {
			data, err := os.ReadFile(att.Path)
			if err != nil {
				return nil, fmt.Errorf("reading attachment %q: %w", att.FileName, err)
			}
			content = data
		}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.FileName)},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Wrapped(part, content); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	writeCommonHeaders(&out, msg, productName, productVersion, now)
	writeHeader(&out, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", w.Boundary()))
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeCommonHeaders(buf *bytes.Buffer, msg Message, productName, productVersion string, now time.Time) {
	writeHeader(buf, "From", msg.From)
	writeHeader(buf, "To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		writeHeader(buf, "Cc", strings.Join(msg.Cc, ", "))
	}
	writeHeader(buf, "Reply-To", msg.ReplyTo)
	writeHeader(buf, "Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	writeHeader(buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(buf, "X-Mailer", fmt.Sprintf("%s %s", productName, productVersion))
	writeHeader(buf, "MIME-Version", "1.0")
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// writeBase64Wrapped writes data base64-encoded, wrapped at 76
// characters per line (RFC 2045 §6.8).
func writeBase64Wrapped(w interface{ Write([]byte) (int, error) }, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(enc); i += 76 {
		end := i + 76
		if end > len(enc) {
			end = len(enc)
		}
		if _, err := w.Write([]byte(enc[i:end])); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
	}
	return nil
}

// dotStuff applies SMTP transparency per RFC 5321 §4.5.2: any line that
// begins with '.' gets a second '.' prefixed, and the stream is
// terminated with the bare "\r\n.\r\n" end-of-data marker the original
// ActionEmail/SmtpSender pairing relies on (Csi.SmtpSender.h
// format_message).
func dotStuff(raw []byte) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ".") {
			out.WriteByte('.')
		}
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	out.WriteString(".\r\n")
	return out.Bytes()
}

// validateAddress reports whether addr parses as an RFC 5322 mailbox,
// used to reject malformed profile addresses before a connection is
// even attempted.
func validateAddress(addr string) error {
	_, err := mail.ParseAddress(addr)
	return err
}

// base64Encode renders a single AUTH LOGIN credential line.
func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
