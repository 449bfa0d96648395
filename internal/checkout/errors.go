package checkout

import "errors"

var (
	ErrSessionNotFound = errors.New("checkout: session not found")

	// ErrLineNotFound is returned when a quantity change targets an item the
	// cart does not hold.
	ErrLineNotFound = errors.New("checkout: line not found in cart")

	// ErrSessionClosed is returned when a mutation targets a session that
	// already finalized or was cancelled.
	ErrSessionClosed = errors.New("checkout: session is closed")

	// ErrInsufficientStock is a soft rejection: the cart or the finalize
	// validation pass asked for more units than are on hand. The session
	// stays open so the cashier can adjust quantities.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")

	// ErrStaleTotalMismatch means the total shown on the terminal no longer
	// matches the recomputed total, usually because the cart changed on
	// another request. The terminal must refresh and confirm again.
	ErrStaleTotalMismatch = errors.New("checkout: displayed total is stale")

	ErrUnsupportedPaymentMethod = errors.New("checkout: unsupported payment method")

	ErrEmptyCart = errors.New("checkout: cart is empty")

	// ErrClientMismatch is returned when a cashier tries to attach a client
	// to a session whose appointment lines already fixed a different one.
	ErrClientMismatch = errors.New("checkout: session already belongs to another client")

	ErrDuplicateAppointment = errors.New("checkout: appointment already in cart")

	ErrInvalidQuantity = errors.New("checkout: quantity must be positive")

	ErrInvalidDiscount = errors.New("checkout: invalid discount")
)
