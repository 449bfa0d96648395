// Package receipt renders a finished sale for 32-column thermal printers.
package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"belezapos/backend/internal/domain"
)

const width = 32

// Document is a rendered receipt, one string per printed row.
type Document struct {
	Lines []string
}

// Render lays out a sale. Item names longer than the space left of the
// amount column are truncated, never wrapped, so every row stays exactly
// one printer line.
func Render(sale domain.Sale, lines []domain.SaleLine, tenant domain.TenantSettings) Document {
	minor := tenant.CurrencyMinorUnit
	money := func(d decimal.Decimal) string {
		return tenant.CurrencySymbol + " " + d.StringFixed(minor)
	}

	doc := Document{Lines: make([]string, 0, 16+2*len(lines))}
	doc.Lines = append(doc.Lines,
		center(tenant.Name),
		strings.Repeat("=", width),
		clamp("Venda: "+sale.ID),
		"Data:  "+sale.CreatedAt.Format("2006-01-02 15:04"),
	)
	if sale.ClientID != "" {
		doc.Lines = append(doc.Lines, clamp("Cliente: "+sale.ClientID))
	}
	doc.Lines = append(doc.Lines, strings.Repeat("-", width))

	// One printed row per sale line. The quantity leads so it survives the
	// truncation of long names.
	for _, line := range lines {
		doc.Lines = append(doc.Lines, row(fmt.Sprintf("%dx %s", line.Quantity, line.Name), money(line.LineTotal)))
	}

	doc.Lines = append(doc.Lines,
		strings.Repeat("-", width),
		row("Subtotal", money(sale.Subtotal)),
	)
	if sale.DiscountAmount.IsPositive() {
		doc.Lines = append(doc.Lines, row("Desconto", "-"+money(sale.DiscountAmount)))
	}
	doc.Lines = append(doc.Lines,
		row("Total", money(sale.Total)),
		row("Pagamento", sale.PaymentMethod),
	)

	if sale.ClientID != "" && (sale.PointsAccrued > 0 || sale.CashbackAccrued.IsPositive()) {
		doc.Lines = append(doc.Lines,
			strings.Repeat("-", width),
			row("Pontos", fmt.Sprintf("%d", sale.PointsAccrued)),
			row("Cashback", money(sale.CashbackAccrued)),
		)
	}

	doc.Lines = append(doc.Lines,
		strings.Repeat("=", width),
		center("Obrigado pela visita!"),
		"",
	)
	return doc
}

func (d Document) Text() string {
	return strings.Join(d.Lines, "\n")
}

// ESCPOS returns raw printer bytes: initialize, the text rows, then a
// partial cut.
func (d Document) ESCPOS() []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range d.Lines {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	out = append(out, []byte{0x1d, 0x56, 0x41, 0x10}...)
	return out
}

// row left-justifies a label against a right-aligned value, truncating the
// label when the two would collide.
func row(left, right string) string {
	space := width - len(right) - 1
	if space < 0 {
		space = 0
	}
	if len(left) > space {
		left = left[:space]
	}
	pad := width - len(left) - len(right)
	if pad < 1 {
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + right
}

func clamp(s string) string {
	if len(s) > width {
		return s[:width]
	}
	return s
}

func center(s string) string {
	if len(s) >= width {
		return s[:width]
	}
	pad := (width - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}
