package deletion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the deletion target has neither an asset row
// nor a prior deletion record.
var ErrNotFound = errors.New("deletion target not found")

// Step is one stage of the deletion sequence.
type Step int

const (
	StepLookup Step = iota + 1
	StepStoreDelete
	StepDerivatives
	StepDeleteRow
	StepUsage
	StepCleanup
	StepCollection
	StepManifest
	StepAudit
	StepCommit
)

var stepNames = map[Step]string{
	StepLookup:      "lookup",
	StepStoreDelete: "store_delete",
	StepDerivatives: "derivatives",
	StepDeleteRow:   "delete_row",
	StepUsage:       "usage",
	StepCleanup:     "cleanup",
	StepCollection:  "collection",
	StepManifest:    "manifest",
	StepAudit:       "audit",
	StepCommit:      "commit",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Failure reports a deletion that did not commit. Completed lists the steps
// that finished before Step failed. When RolledBack is set the relational
// steps among them were undone; the object store delete never is.
type Failure struct {
	Filename   string
	Step       Step
	Completed  []Step
	RolledBack bool
	Err        error
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (f *Failure) Error() string {
	done := make([]string, len(f.Completed))
	for i, s := range f.Completed {
		done[i] = s.String()
	}
	msg := fmt.Sprintf("delete %s: %s failed: %v", f.Filename, f.Step, f.Err)
	if len(done) > 0 {
		msg += " (completed: " + strings.Join(done, ",")
		if f.RolledBack {
			msg += "; relational changes rolled back"
		}
		msg += ")"
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Warning is a non-fatal partial cleanup: a derivative that could not be
// removed or an optional table that failed.
type Warning struct {
	Step   Step
	Target string
	Err    error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s %s: %v", w.Step, w.Target, w.Err)
}

func (w Warning) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Step   Step   `json:"step"`
		Target string `json:"target"`
		Error  string `json:"error"`
	}{w.Step, w.Target, w.Err.Error()})
}
