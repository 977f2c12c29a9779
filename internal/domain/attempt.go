package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the terminal result of one handshake attempt.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeRejected
	OutcomeTimeout
	OutcomeProtocolError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeProtocolError:
		return "protocol_error"
	case OutcomeTransportError:
		return "transport_error"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// CarriesDetail reports whether attempts with this outcome keep a diagnostic payload.
func (o Outcome) CarriesDetail() bool {
	switch o {
	case OutcomeSuccess, OutcomeProtocolError:
		return true
	case OutcomeRejected, OutcomeTimeout, OutcomeTransportError:
		return false
	}
	return false
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	v, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// ParseOutcome accepts the String form, case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return OutcomeSuccess, nil
	case "rejected":
		return OutcomeRejected, nil
	case "timeout":
		return OutcomeTimeout, nil
	case "protocol_error", "protocol-error":
		return OutcomeProtocolError, nil
	case "transport_error", "transport-error":
		return OutcomeTransportError, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// State is a handshake state machine state.
type State uint8

const (
	StateInit State = iota
	StateAdvertised
	StateKeyExchangeSent
	StateKeyExchangeAcked
	StateMalformedFrameSent
	StateConditionTriggered
	StateRejected
	StateTimeout
	StateTransportError
	StateProtocolError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAdvertised:
		return "Advertised"
	case StateKeyExchangeSent:
		return "KeyExchangeSent"
	case StateKeyExchangeAcked:
		return "KeyExchangeAcked"
	case StateMalformedFrameSent:
		return "MalformedFrameSent"
	case StateConditionTriggered:
		return "ConditionTriggered"
	case StateRejected:
		return "Rejected"
	case StateTimeout:
		return "Timeout"
	case StateTransportError:
		return "TransportError"
	case StateProtocolError:
		return "ProtocolError"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateConditionTriggered, StateRejected, StateTimeout, StateTransportError, StateProtocolError:
		return true
	case StateInit, StateAdvertised, StateKeyExchangeSent, StateKeyExchangeAcked, StateMalformedFrameSent:
		return false
	}
	return false
}

// Outcome maps a terminal state to the attempt outcome. ok is false for
// non-terminal states.
func (s State) Outcome() (o Outcome, ok bool) {
	switch s {
	case StateConditionTriggered:
		return OutcomeSuccess, true
	case StateRejected:
		return OutcomeRejected, true
	case StateTimeout:
		return OutcomeTimeout, true
	case StateTransportError:
		return OutcomeTransportError, true
	case StateProtocolError:
		return OutcomeProtocolError, true
	case StateInit, StateAdvertised, StateKeyExchangeSent, StateKeyExchangeAcked, StateMalformedFrameSent:
		return 0, false
	}
	return 0, false
}

// Attempt is the transient record of one handshake execution.
type Attempt struct {
	SessionID     string
	TargetAddress string
	StartTime     time.Time
	Duration      time.Duration
	Outcome       Outcome
	FinalState    State
	Detail        []byte
	Err           error
}

// Result is the per-target aggregate handed back to the caller.
type Result struct {
	Device        Device        `json:"device"`
	Outcome       Outcome       `json:"outcome_kind"`
	ExploitResult []byte        `json:"exploit_result,omitempty"`
	Attempts      int           `json:"attempts"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// Success mirrors the success flag of the exploit report.
func (r Result) Success() bool { return r.Outcome == OutcomeSuccess }

// Fold merges the final attempt of a target into its result.
func (r *Result) Fold(a Attempt) {
	r.Attempts++
	r.Outcome = a.Outcome
	r.Duration += a.Duration
	r.ExploitResult = nil
	if a.Outcome.CarriesDetail() && len(a.Detail) > 0 {
		r.ExploitResult = append([]byte(nil), a.Detail...)
	}
	r.Error = ""
	if a.Err != nil {
		r.Error = a.Err.Error()
	}
	if a.Outcome == OutcomeSuccess {
		r.Device.Status = StatusConfirmed
	}
}
