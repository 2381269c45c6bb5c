package email

import "fmt"

// BuildBookingConfirmationBody renders the booking confirmation email body.
func BuildBookingConfirmationBody(bookingID string, guests, total int) string {
	return fmt.Sprintf(`<html>
<body>
	<h2>Your booking is confirmed</h2>
	<p>Booking number: %s</p>
	<table>
		<tr><td>Guests</td><td>%d</td></tr>
		<tr><td>Total</td><td>%d</td></tr>
	</table>
	<p>We look forward to seeing you.</p>
</body>
</html>`, bookingID, guests, total)
}

// BuildOrderReceiptBody renders the order payment receipt email body.
func BuildOrderReceiptBody(orderID string, total int) string {
	return fmt.Sprintf(`<html>
<body>
	<h2>Payment received</h2>
	<p>Order number: %s</p>
	<p>Amount: %d</p>
	<p>The seller is preparing your order.</p>
</body>
</html>`, orderID, total)
}
