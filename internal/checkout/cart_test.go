package checkout

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"belezapos/backend/internal/domain"
)

func TestCartMergesIdenticalProductLines(t *testing.T) {
	var cart Cart
	line := domain.CartLine{ItemID: "prd-1", Kind: domain.KindProduct, Quantity: 1, UnitPrice: decimal.NewFromInt(10), StockSnapshot: 5}

	if err := cart.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cart.Add(line); err != nil {
		t.Fatalf("add again: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(cart.Lines))
	}
	if cart.Lines[0].Quantity != 2 {
		t.Fatalf("merged quantity = %d", cart.Lines[0].Quantity)
	}

	// Merging past the snapshot is rejected and leaves the line intact.
	line.Quantity = 4
	if err := cart.Add(line); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if cart.Lines[0].Quantity != 2 {
		t.Fatalf("rejected merge changed quantity to %d", cart.Lines[0].Quantity)
	}
}

func TestCartRemovingAppointmentReleasesClientPin(t *testing.T) {
	var cart Cart

	if err := cart.AdoptClient("cli-ana", true); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := cart.Add(domain.CartLine{ItemID: "appt-1", Kind: domain.KindAppointmentService, Quantity: 1, UnitPrice: decimal.NewFromInt(80), SourceAppointmentID: "appt-1"}); err != nil {
		t.Fatalf("add appointment: %v", err)
	}
	if err := cart.AdoptClient("cli-carla", false); !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("pinned client must not be replaced, got %v", err)
	}

	cart.Remove("appt-1", domain.KindAppointmentService)
	if err := cart.AdoptClient("cli-carla", false); err != nil {
		t.Fatalf("pin should be released after removal: %v", err)
	}
	if cart.ClientID != "cli-carla" {
		t.Fatalf("client = %q", cart.ClientID)
	}
}

func TestCartSetQuantityOnUnknownLine(t *testing.T) {
	var cart Cart
	if err := cart.SetQuantity("prd-ghost", domain.KindProduct, 2); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}

func TestCartCashierClientBlocksForeignAppointment(t *testing.T) {
	var cart Cart

	if err := cart.AdoptClient("cli-carla", false); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	// An appointment belonging to somebody else must not rebind the sale.
	if err := cart.AdoptClient("cli-ana", true); !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("expected ErrClientMismatch, got %v", err)
	}

	// The cashier can swap their own pick, after which the appointment's
	// client matches and pins.
	if err := cart.AdoptClient("cli-ana", false); err != nil {
		t.Fatalf("cashier swap: %v", err)
	}
	if err := cart.AdoptClient("cli-ana", true); err != nil {
		t.Fatalf("matching appointment client: %v", err)
	}
	if err := cart.AdoptClient("cli-carla", false); !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("pinned client must not be replaced, got %v", err)
	}
}

func TestCartAppointmentQuantityIsFixed(t *testing.T) {
	var cart Cart
	if err := cart.Add(domain.CartLine{ItemID: "appt-1", Kind: domain.KindAppointmentService, Quantity: 1, UnitPrice: decimal.NewFromInt(80), SourceAppointmentID: "appt-1"}); err != nil {
		t.Fatalf("add appointment: %v", err)
	}
	if err := cart.SetQuantity("appt-1", domain.KindAppointmentService, 2); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}
