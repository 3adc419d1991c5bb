package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"stall-reservation/internal/util"

	"github.com/mailersend/mailersend-go"
	"go.uber.org/zap"
)

const systemName = "Book Fair Stall Reservations"

// message is a rendered plain-text email
type message struct {
	to      string
	name    string
	subject string
	text    string
	qrPNG   []byte
}

// sender delivers one rendered message
type sender interface {
	send(ctx context.Context, m message) error
}

// Mailer implements Dispatcher over email
type Mailer struct {
	sender sender
	logger *zap.Logger
}

// NewMailer creates a Mailer sending through MailerSend. With an empty API
// key messages are only logged, which is what local development uses.
func NewMailer(apiKey, fromEmail, fromName string) *Mailer {
	logger := util.GetLogger()
	if apiKey == "" {
		logger.Warn("MailerSend API key not set, emails will only be logged")
		return &Mailer{sender: &logSender{logger: logger}, logger: logger}
	}
	return &Mailer{
		sender: &mailerSendSender{
			client: mailersend.NewMailersend(apiKey),
			from:   mailersend.From{Name: fromName, Email: fromEmail},
			logger: logger,
		},
		logger: logger,
	}
}

func (m *Mailer) deliver(ctx context.Context, msg message) error {
	if msg.to == "" {
		return fmt.Errorf("notification %q has no recipient", msg.subject)
	}
	return m.sender.send(ctx, msg)
}

// BookingReceived tells the vendor the booking is awaiting payment confirmation
func (m *Mailer) BookingReceived(ctx context.Context, n ReservationNotice, qrPNG []byte) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Booking Received - Awaiting Payment Confirmation - " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nWe received your booking %s for %s on %s.\n"+
				"Stalls: %d\nTotal: %s\nAdvance due: %s\n"+
				"Your reservation will be confirmed once the advance payment is verified.\n"+
				"Cancellation deadline: %s\n\n%s",
			n.Vendor.Name, r.BookingCode, n.Event.Name, formatDate(n.Event.EventDate),
			len(r.StallIDs), FormatAmount(r.TotalAmount), FormatAmount(r.AdvanceAmount),
			formatDate(r.CancellationDeadline), systemName),
		qrPNG: qrPNG,
	})
}

// PaymentConfirmed tells the vendor the advance was received
func (m *Mailer) PaymentConfirmed(ctx context.Context, n ReservationNotice, qrPNG []byte) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Payment Confirmed - Booking " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nYour payment of %s for booking %s at %s has been confirmed.\n"+
				"Please present the attached QR code at the venue.\n\n%s",
			n.Vendor.Name, FormatAmount(r.AdvanceAmount), r.BookingCode, n.Event.Name, systemName),
		qrPNG: qrPNG,
	})
}

// Cancelled tells the vendor an administrator rejected the reservation
func (m *Mailer) Cancelled(ctx context.Context, n ReservationNotice) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Reservation Cancelled - Booking " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nYour reservation %s for %s has been cancelled by the organisers.\n\n%s",
			n.Vendor.Name, r.BookingCode, n.Event.Name, systemName),
	})
}

// Refunded tells the vendor the advance was refunded
func (m *Mailer) Refunded(ctx context.Context, n ReservationNotice) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Refund Successfully Processed - Booking " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nThe refund of %s for booking %s at %s has been processed.\n\n%s",
			n.Vendor.Name, FormatAmount(r.AdvanceAmount), r.BookingCode, n.Event.Name, systemName),
	})
}

// VendorCancelSuccess confirms a vendor-initiated cancellation
func (m *Mailer) VendorCancelSuccess(ctx context.Context, n ReservationNotice) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Cancellation Confirmed - Booking " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nYour reservation %s for %s has been cancelled as requested.\n"+
				"Any completed payment will be refunded.\n\n%s",
			n.Vendor.Name, r.BookingCode, n.Event.Name, systemName),
	})
}

// EventRemoved tells a vendor the event they booked was withdrawn
func (m *Mailer) EventRemoved(ctx context.Context, vendorEmail, eventName, bookingCode string) error {
	return m.deliver(ctx, message{
		to:      vendorEmail,
		subject: "Event Cancelled - " + eventName + " - Booking " + bookingCode,
		text: fmt.Sprintf(
			"Dear Vendor,\n\n%s has been cancelled. Your booking %s is void and any payment will be refunded.\n\n%s",
			eventName, bookingCode, systemName),
	})
}

// AccountDeactivated tells a vendor their account was deactivated
func (m *Mailer) AccountDeactivated(ctx context.Context, email, name string) error {
	return m.deliver(ctx, message{
		to:      email,
		name:    name,
		subject: "Account Deactivated - " + systemName,
		text: fmt.Sprintf(
			"Dear %s,\n\nYour vendor account has been deactivated by the administrator.\n\n%s",
			name, systemName),
	})
}

// CancellationDeadlineApproaching reminds the vendor the self-cancel window closes tomorrow
func (m *Mailer) CancellationDeadlineApproaching(ctx context.Context, n ReservationNotice) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Reminder: Cancellation Deadline Approaching - " + r.BookingCode,
		text: fmt.Sprintf(
			"Dear %s,\n\nThe cancellation deadline for booking %s is %s.\n\n%s",
			n.Vendor.Name, r.BookingCode, formatDate(r.CancellationDeadline), systemName),
	})
}

// EventReminder reminds the vendor the event is close
func (m *Mailer) EventReminder(ctx context.Context, n ReservationNotice) error {
	r := n.Reservation
	return m.deliver(ctx, message{
		to:      n.Vendor.Email,
		name:    n.Vendor.Name,
		subject: "Upcoming Event Reminder - " + n.Event.Name,
		text: fmt.Sprintf(
			"Dear %s,\n\n%s takes place on %s at %s. Booking: %s.\n\n%s",
			n.Vendor.Name, n.Event.Name, formatDate(n.Event.EventDate), n.Event.Location,
			r.BookingCode, systemName),
	})
}

// FormatAmount renders minor units as a decimal amount with two places
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

type mailerSendSender struct {
	client *mailersend.Mailersend
	from   mailersend.From
	logger *zap.Logger
}

func (s *mailerSendSender) send(ctx context.Context, m message) error {
	msg := s.client.Email.NewMessage()
	msg.SetFrom(s.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: m.name, Email: m.to}})
	msg.SetSubject(m.subject)
	msg.SetText(m.text)

	if len(m.qrPNG) > 0 {
		msg.AddAttachment(mailersend.Attachment{
			Content:     base64.StdEncoding.EncodeToString(m.qrPNG),
			Filename:    "booking-qr.png",
			Disposition: "attachment",
		})
	}

	res, err := s.client.Email.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Email sent",
		zap.String("to", m.to),
		zap.String("subject", m.subject),
		zap.String("message_id", res.Header.Get("X-Message-Id")))
	return nil
}

type logSender struct {
	logger *zap.Logger
}

func (s *logSender) send(_ context.Context, m message) error {
	s.logger.Info("Email (not sent)",
		zap.String("to", m.to),
		zap.String("subject", m.subject),
		zap.Int("qr_bytes", len(m.qrPNG)))
	return nil
}
