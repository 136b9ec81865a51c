package sync

import (
	"sort"
)

// Outcome is the shape of the Responder's reply to a probe.
type Outcome int

const (
	// OutcomeContainer means the Responder holds files the Initiator lacks,
	// so it replies with a binary container.
	OutcomeContainer Outcome = iota

	// OutcomeNames means the Initiator holds files the Responder lacks, but
	// not the other way around, so the Responder replies with a plain name
	// list.
	OutcomeNames

	// OutcomeSynced means both peers hold the same names.
	OutcomeSynced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContainer:
		return "container"
	case OutcomeNames:
		return "names"
	case OutcomeSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Plan is the Responder's decision for a single probe.
type Plan struct {
	// Missing are the names that only the Initiator holds.
	Missing NameSet

	// Extra are the Responder's entries for names the Initiator doesn't hold.
	Extra []FileEntry
}

// Outcome returns how the plan should be sent back to the Initiator. The
// cases are checked in order: any extra files force a container, even if the
// Responder is also missing files.
func (p Plan) Outcome() Outcome {
	switch {
	case len(p.Extra) > 0:
		return OutcomeContainer
	case len(p.Missing) > 0:
		return OutcomeNames
	default:
		return OutcomeSynced
	}
}

// Reconcile compares the Initiator's probed names against the Responder's
// files.
func Reconcile(responder map[string][]byte, probe NameSet) Plan {
	plan := Plan{Missing: NameSet{}}
	for name := range probe {
		if _, ok := responder[name]; !ok {
			plan.Missing.Add(name)
		}
	}

	for name, data := range responder {
		if !probe.Has(name) {
			plan.Extra = append(plan.Extra, FileEntry{Name: name, Data: data})
		}
	}
	sort.Slice(plan.Extra, func(i, j int) bool {
		return plan.Extra[i].Name < plan.Extra[j].Name
	})
	return plan
}
