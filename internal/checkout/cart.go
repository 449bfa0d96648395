package checkout

import (
	"belezapos/backend/internal/domain"
)

// Cart holds the lines of one open session. It is not safe for concurrent
// use on its own; the owning session serializes access.
type Cart struct {
	Lines    []domain.CartLine
	Discount domain.Discount
	ClientID string

	// clientFromAppointment marks that ClientID was fixed by an appointment
	// line and may not be switched to someone else.
	clientFromAppointment bool
}

// Add merges the line into the cart. Product and service lines with the
// same item merge into one line; appointment lines are unique per
// appointment. Product lines are soft-checked against the stock snapshot
// taken when the product was resolved, so the cashier hears about shortages
// early even though the authoritative check happens at commit.
func (c *Cart) Add(line domain.CartLine) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}

	if line.Kind == domain.KindAppointmentService {
		for _, existing := range c.Lines {
			if existing.SourceAppointmentID == line.SourceAppointmentID {
				return ErrDuplicateAppointment
			}
		}
		c.Lines = append(c.Lines, line)
		return nil
	}

	for i, existing := range c.Lines {
		if existing.ItemID != line.ItemID || existing.Kind != line.Kind {
			continue
		}
		merged := existing.Quantity + line.Quantity
		if line.Kind == domain.KindProduct && merged > line.StockSnapshot {
			return ErrInsufficientStock
		}
		c.Lines[i].Quantity = merged
		c.Lines[i].StockSnapshot = line.StockSnapshot
		return nil
	}

	if line.Kind == domain.KindProduct && line.Quantity > line.StockSnapshot {
		return ErrInsufficientStock
	}
	c.Lines = append(c.Lines, line)
	return nil
}

// SetQuantity changes a line's quantity in place. A rejected change leaves
// the previous quantity untouched.
func (c *Cart) SetQuantity(itemID string, kind domain.LineKind, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	for i, existing := range c.Lines {
		if existing.ItemID != itemID || existing.Kind != kind {
			continue
		}
		if kind == domain.KindAppointmentService {
			return ErrInvalidQuantity
		}
		if kind == domain.KindProduct && quantity > existing.StockSnapshot {
			return ErrInsufficientStock
		}
		c.Lines[i].Quantity = quantity
		return nil
	}
	return ErrLineNotFound
}

// Remove drops a line. Removing an appointment line releases the client
// pin when no other appointment line holds it.
func (c *Cart) Remove(itemID string, kind domain.LineKind) {
	kept := c.Lines[:0]
	for _, existing := range c.Lines {
		if existing.ItemID == itemID && existing.Kind == kind {
			continue
		}
		kept = append(kept, existing)
	}
	c.Lines = kept

	if c.clientFromAppointment && !c.hasAppointmentLines() {
		c.clientFromAppointment = false
	}
}

// AdoptClient applies the first-writer-wins client rule. An appointment
// line pins its client and the pin is immutable. A cashier-attached client
// can be swapped by the cashier, but an appointment for somebody else is
// rejected rather than silently rebinding the sale.
func (c *Cart) AdoptClient(clientID string, fromAppointment bool) error {
	if clientID == "" {
		return nil
	}
	if c.ClientID == "" || c.ClientID == clientID {
		c.ClientID = clientID
		if fromAppointment {
			c.clientFromAppointment = true
		}
		return nil
	}
	if c.clientFromAppointment {
		return ErrClientMismatch
	}
	if fromAppointment {
		return ErrClientMismatch
	}
	c.ClientID = clientID
	return nil
}

func (c *Cart) Clear() {
	c.Lines = nil
	c.Discount = domain.Discount{}
	c.ClientID = ""
	c.clientFromAppointment = false
}

func (c *Cart) hasAppointmentLines() bool {
	for _, line := range c.Lines {
		if line.Kind == domain.KindAppointmentService {
			return true
		}
	}
	return false
}
