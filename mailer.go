package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/bodul/crossword-shop/render"
)

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Mailer sends purchasers a printable copy of their puzzle once the print
// order has been placed.
type Mailer struct {
	sender mailSender
	from   string
}

func NewMailer(host string, port int, username, password, from string) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	c, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{sender: c, from: from}, nil
}

func (m *Mailer) SendPuzzle(ctx context.Context, o *Order, p *Puzzle) error {
	msg, err := newPuzzleMessage(m.from, o, p)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func newPuzzleMessage(from string, o *Order, p *Puzzle) (*mail.Msg, error) {
	doc, err := render.PDF(p.Grid, p.Placed, "Your crossword")
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(o.Email); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject("Your crossword is on its way")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Thanks for your order.\n\nYour %s is with the printer (order %s). "+
			"A printable copy of the puzzle is attached.\n", o.Product, o.ID))
	err = msg.AttachReader(p.ID+".pdf", bytes.NewReader(doc),
		mail.WithFileContentType(mail.ContentType("application/pdf")))
	if err != nil {
		return nil, fmt.Errorf("attach pdf: %w", err)
	}
	return msg, nil
}
