package email

import (
	"fmt"
	"net/smtp"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendBookingConfirmation sends a booking confirmation email
func (s *Service) SendBookingConfirmation(to, bookingID string, guests, total int) error {
	subject := fmt.Sprintf("Booking confirmed (%s)", shortID(bookingID))
	body := BuildBookingConfirmationBody(bookingID, guests, total)
	return s.send(to, subject, body)
}

// SendOrderReceipt sends a payment receipt for a paid order
func (s *Service) SendOrderReceipt(to, orderID string, total int) error {
	subject := fmt.Sprintf("Payment received for order %s", shortID(orderID))
	body := BuildOrderReceiptBody(orderID, total)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
