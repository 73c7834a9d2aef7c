// Package mail はメールの組み立てとSMTP送信を提供する。
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// ErrInvalidHeader は宛先や件名に改行が含まれている場合のエラー。再送しても成功しない。
var ErrInvalidHeader = errors.New("invalid header value")

// Message は送信する1通のメール。本文はプレーンテキスト。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTPサーバーの接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender はSMTPでメールを送信するSender。
// Usernameが設定されている場合のみPLAIN認証を行う。
type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender は新しいSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		sendMail: smtp.SendMail,
	}
}

// Send はメールを送信する。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("%w in message to %q", ErrInvalidHeader, msg.To)
	}

	if err := s.sendMail(s.addr, s.auth, s.from, []string{msg.To}, s.compose(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// ConfirmationMessage はメールアドレス確認用のメッセージを組み立てる。
func ConfirmationMessage(to, url string) Message {
	return Message{
		To:      to,
		Subject: "Please confirm your email",
		Body: "Welcome! Please confirm your email address by following the link below.\n\n" +
			url + "\n\n" +
			"If you did not create an account, you can ignore this email.",
	}
}

// ResetMessage はパスワードリセット用のメッセージを組み立てる。
func ResetMessage(to, url string) Message {
	return Message{
		To:      to,
		Subject: "Password reset request",
		Body: "We received a request to reset your password. Use the link below to choose a new one.\n\n" +
			url + "\n\n" +
			"If you did not request a password reset, you can ignore this email.",
	}
}

// compile-time interface check
var _ Sender = (*SMTPSender)(nil)
