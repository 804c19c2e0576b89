package mailer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/pkg/config"
)

type fakeRelay struct {
	mu       sync.Mutex
	rcpts    []string
	messages []string
}

func (r *fakeRelay) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *fakeRelay) dial(network, addr string, timeout time.Duration) (net.Conn, error) {
	clientConn, serverConn := net.Pipe()

	go func() {
		defer serverConn.Close()

		writer := bufio.NewWriter(serverConn)
		reader := textproto.NewReader(bufio.NewReader(serverConn))

		fmt.Fprint(writer, "220 smtp.example.com ESMTP\r\n")
		_ = writer.Flush()

		for {
			line, err := reader.ReadLine()
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				fmt.Fprint(writer, "250-smtp.example.com\r\n250 SIZE 35882577\r\n")
			case strings.HasPrefix(line, "MAIL FROM:"):
				fmt.Fprint(writer, "250 2.1.0 OK\r\n")
			case strings.HasPrefix(line, "RCPT TO:"):
				r.mu.Lock()
				r.rcpts = append(r.rcpts, strings.TrimPrefix(line, "RCPT TO:"))
				r.mu.Unlock()
				fmt.Fprint(writer, "250 2.1.5 OK\r\n")
			case strings.HasPrefix(line, "DATA"):
				fmt.Fprint(writer, "354 End data with <CR><LF>.<CR><LF>\r\n")
				_ = writer.Flush()
				data, readErr := reader.ReadDotBytes()
				if readErr != nil {
					return
				}
				r.mu.Lock()
				r.messages = append(r.messages, string(data))
				r.mu.Unlock()
				fmt.Fprint(writer, "250 2.0.0 queued\r\n")
			case strings.HasPrefix(line, "QUIT"):
				fmt.Fprint(writer, "221 2.0.0 Bye\r\n")
				_ = writer.Flush()
				return
			default:
				fmt.Fprint(writer, "250 OK\r\n")
			}
			_ = writer.Flush()
		}
	}()

	return clientConn, nil
}

func testSender(dial dialFunc) *SMTPSender {
	s := NewSMTPSender(config.SMTPConfig{
		Host:    "smtp.example.com",
		Port:    587,
		From:    "payroll@acme.test",
		Timeout: 5 * time.Second,
	})
	s.dial = dial
	return s
}

func TestSendDeliversPayslipWithAttachment(t *testing.T) {
	relay := &fakeRelay{}
	sender := testSender(relay.dial)

	pdf := []byte("%PDF-1.3 fake statement body that spans enough bytes to wrap across base64 lines ............")
	msg, err := NewPayslipMessage(PayslipEmail{
		To:               "priya@acme.test",
		EmployeeName:     "Priya Sharma",
		OrganizationName: "Acme",
		MonthYear:        "January 2024",
		Attachment:       Attachment{Filename: "Payslip_Priya_Sharma_January_2024.pdf", ContentType: "application/pdf", Data: pdf},
	})
	require.NoError(t, err)

	messageID, err := sender.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(messageID, "<"))
	require.True(t, strings.HasSuffix(messageID, "@acme.test>"))
	require.Equal(t, []string{"<priya@acme.test>"}, relay.rcpts)

	parsed, err := mail.ReadMessage(strings.NewReader(relay.last()))
	require.NoError(t, err)
	require.Equal(t, "Your Payslip for January 2024", parsed.Header.Get("Subject"))
	require.Equal(t, messageID, parsed.Header.Get("Message-ID"))

	from, err := mail.ParseAddress(parsed.Header.Get("From"))
	require.NoError(t, err)
	require.Equal(t, "Acme Payroll", from.Name)
	require.Equal(t, "payroll@acme.test", from.Address)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	htmlPart, err := mr.NextPart()
	require.NoError(t, err)
	html, err := io.ReadAll(htmlPart)
	require.NoError(t, err)
	require.Contains(t, string(html), "Hello Priya Sharma")

	attachment, err := mr.NextPart()
	require.NoError(t, err)
	require.Equal(t, "Payslip_Priya_Sharma_January_2024.pdf", attachment.FileName())
	encoded, err := io.ReadAll(attachment)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(encoded)), ""))
	require.NoError(t, err)
	require.True(t, bytes.Equal(pdf, decoded))
}

func TestSendWithoutRelayConfigured(t *testing.T) {
	sender := NewSMTPSender(config.SMTPConfig{})
	_, err := sender.Send(context.Background(), Message{To: "a@b.test"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendHonoursContextDeadline(t *testing.T) {
	silent := func(network, addr string, timeout time.Duration) (net.Conn, error) {
		clientConn, serverConn := net.Pipe()
		go func() {
			defer serverConn.Close()
			_, _ = io.Copy(io.Discard, serverConn)
		}()
		return clientConn, nil
	}
	sender := testSender(silent)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sender.Send(ctx, Message{To: "priya@acme.test", Subject: "x"})
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestPayslipMessageMentionsEncryption(t *testing.T) {
	msg, err := NewPayslipMessage(PayslipEmail{
		To:           "priya@acme.test",
		EmployeeName: "Priya",
		MonthYear:    "March 2024",
		Encrypted:    true,
		Attachment:   Attachment{Filename: "Payslip_Priya_March_2024.pdf.enc"},
	})
	require.NoError(t, err)
	require.Equal(t, "Your Company Payroll", msg.FromName)
	require.Contains(t, msg.HTMLBody, "encrypted")
}
