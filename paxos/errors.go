package paxos

import "fmt"

// IntegrityError reports a consensus safety violation: a replica
// observed two different commands decided for the same slot. Fatal: the
// core never recovers from it
// locally; it surfaces the value to the driver and refuses further
// progress on the affected role.
type IntegrityError struct {
	Slot     Slot
	Existing Command
	Observed Command
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at slot %d: decided %v, then observed %v", e.Slot, e.Existing, e.Observed)
}
