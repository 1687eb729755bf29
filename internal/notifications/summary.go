package notifications

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/h7-ecom/api/internal/domain"
)

// SummaryRenderer formats orders as plain text suitable for SMS style relays.
type SummaryRenderer struct {
	printer  *message.Printer
	location *time.Location
}

// NewSummaryRenderer builds a renderer for the given language tag and display time zone.
// Empty values fall back to English and UTC.
func NewSummaryRenderer(lang string, location *time.Location) SummaryRenderer {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			tag = parsed
		}
	}
	if location == nil {
		location = time.UTC
	}
	return SummaryRenderer{printer: message.NewPrinter(tag), location: location}
}

// Render returns the customer, contact, address, line item, total, and payment details of order.
func (r SummaryRenderer) Render(order domain.Order, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New order %s\n", order.ID)
	if name := strings.TrimSpace(order.Shipping.Name); name != "" {
		fmt.Fprintf(&b, "Customer: %s\n", name)
	}
	if order.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", order.Phone)
	}
	if address := formatAddress(order.Shipping); address != "" {
		fmt.Fprintf(&b, "Address: %s\n", address)
	}
	b.WriteString("Items:\n")
	for _, item := range order.Items {
		label := item.ProductName
		if label == "" {
			label = item.ProductID
		}
		fmt.Fprintf(&b, "- %s x%d @ %s\n", label, item.Quantity, r.money(order.Currency, item.UnitPrice.InexactFloat64()))
	}
	fmt.Fprintf(&b, "Total: %s\n", r.money(order.Currency, order.Total.InexactFloat64()))
	if order.PaymentMethod != "" {
		fmt.Fprintf(&b, "Payment: %s\n", order.PaymentMethod)
	}
	if order.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", order.Notes)
	}
	fmt.Fprintf(&b, "Placed: %s", at.In(r.location).Format("2006-01-02 15:04 MST"))
	return b.String()
}

func (r SummaryRenderer) money(code string, amount float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return r.printer.Sprintf("%.2f %s", amount, code)
	}
	return r.printer.Sprint(currency.Symbol(unit.Amount(amount)))
}

func formatAddress(s domain.ShippingDetails) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{s.Address, strings.TrimSpace(s.Zip + " " + s.City), s.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
