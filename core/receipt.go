package core

// Outcome is the three-way result a transaction can have (spec.md §6, §8
// property 6): Rejected means the database is untouched and not even fees
// were collected; Failure means fees were collected but every other state
// write rolled back; Success means the whole DatabaseUpdates batch
// committed.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeRejected
)

// Event is a single blueprint-emitted event recorded on the receipt
// (spec.md §6 "system structure"); its payload is not schema-validated.
type Event struct {
	Emitter NodeID
	Name    string
	Payload []byte
}

// Receipt is the complete, deterministic output of running one transaction
// against a SubstateDatabase (spec.md §6): outcome, fee summary, the
// database updates actually applied (empty on Rejected/Failure beyond fee
// vault debits), every emitted event, every runtime log line, and the set
// of newly allocated global addresses.
type Receipt struct {
	Outcome Outcome
	Error   error // nil on Success

	FeeSummary FeeSummary
	Updates    DatabaseUpdates
	Events     []Event
	Logs       []string
	NewAddresses []NodeID

	ReturnValue []byte
}

func successReceipt(updates DatabaseUpdates, fees FeeSummary, events []Event, logs []string, newAddrs []NodeID, ret []byte) *Receipt {
	return &Receipt{
		Outcome:      OutcomeSuccess,
		FeeSummary:   fees,
		Updates:      updates,
		Events:       events,
		Logs:         logs,
		NewAddresses: newAddrs,
		ReturnValue:  ret,
	}
}

func failureReceipt(err error, feeUpdates DatabaseUpdates, fees FeeSummary) *Receipt {
	return &Receipt{
		Outcome:    OutcomeFailure,
		Error:      err,
		FeeSummary: fees,
		Updates:    feeUpdates,
	}
}

func rejectedReceipt(reason *RejectionReason) *Receipt {
	return &Receipt{
		Outcome: OutcomeRejected,
		Error:   reason,
	}
}
