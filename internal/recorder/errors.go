package recorder

import "errors"

var (
	// ErrOutOfOrder is returned when a signal's timestamp is not strictly
	// newer than the latest persisted signal for the same symbol and
	// timeframe.
	ErrOutOfOrder = errors.New("signal timestamp out of order")

	ErrSignalNotFound = errors.New("signal not found")
	ErrTradeNotFound  = errors.New("trade not found")

	// ErrTradeAlreadyClosed is returned by the store when a close targets a
	// trade that already settled. The service treats it as a warn-level
	// no-op, returning the stored outcome unchanged.
	ErrTradeAlreadyClosed = errors.New("trade already closed")

	// ErrTradeExists is returned when a trade is opened against a signal
	// that already has one.
	ErrTradeExists = errors.New("signal already has a trade")

	// ErrNeutralSignal is returned when a trade is opened against a signal
	// with no directional view.
	ErrNeutralSignal = errors.New("cannot trade a neutral signal")

	// ErrSignalNotOpen is returned when a trade is opened against a closed
	// or expired signal.
	ErrSignalNotOpen = errors.New("signal is not open")
)
