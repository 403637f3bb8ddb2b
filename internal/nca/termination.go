package nca

import (
	"fmt"
)

type TerminationKind int

const (
	Running TerminationKind = iota
	MaxSteps
	Convergence
)

func (k TerminationKind) String() string {
	switch k {
	case Running:
		return "running"
	case MaxSteps:
		return "max_steps"
	case Convergence:
		return "convergence"
	default:
		return fmt.Sprintf("termination(%d)", int(k))
	}
}

func (k TerminationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TerminationKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "running":
		*k = Running
	case "max_steps":
		*k = MaxSteps
	case "convergence":
		*k = Convergence
	default:
		return fmt.Errorf("unknown termination kind: %q", text)
	}
	return nil
}

// Termination is the state of an executor after its latest step. Steps is
// the number of updates applied.
type Termination struct {
	Kind  TerminationKind `json:"kind"`
	Steps int             `json:"steps"`
}

func (t Termination) Terminal() bool { return t.Kind != Running }

func (t Termination) String() string {
	if t.Kind == Convergence {
		return fmt.Sprintf("convergence(%d)", t.Steps)
	}
	return t.Kind.String()
}
