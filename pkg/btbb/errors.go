package btbb

import "errors"

var (
	// ErrShortBuffer is returned when a symbol stream ends before the field being decoded
	ErrShortBuffer = errors.New("btbb: not enough symbols")
	// ErrUncorrectable is returned when a (15,10) block holds more than one error
	ErrUncorrectable = errors.New("btbb: uncorrectable block")
	// ErrNoHeader is returned when the repetition-coded header fails its quality gate
	ErrNoHeader = errors.New("btbb: header not decodable")
	// ErrBadHEC is returned when the header check does not match the known UAP
	ErrBadHEC = errors.New("btbb: header error check mismatch")
	// ErrClockUnknown is returned when decoding is attempted without a clock
	ErrClockUnknown = errors.New("btbb: clock not set")
	// ErrUAPUnknown is returned when decoding is attempted without a UAP
	ErrUAPUnknown = errors.New("btbb: UAP not set")
	// ErrInvalidTransition is returned when an operation is not valid in the packet's state
	ErrInvalidTransition = errors.New("btbb: invalid state transition")
)
