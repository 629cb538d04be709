package domain

import "strconv"

// Status is the closed view of a pipeline status string.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
)

const (
	RawSuccess = "success"
	RawFailed  = "failed"
)

// Classify maps a provider status string onto a Status. Anything that is not
// one of the two terminal values is pending.
func Classify(s string) Status {
	switch s {
	case RawSuccess:
		return StatusSuccess
	case RawFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

func (s Status) Terminal() bool { return s != StatusPending }

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Build is one fetched pipeline run.
type Build struct {
	ID         int64
	Status     string
	Ref        string
	CommitSHA  string
	AuthorName string
	WebURL     string
}

func (b Build) ShortSHA() string {
	if len(b.CommitSHA) <= 8 {
		return b.CommitSHA
	}
	return b.CommitSHA[:8]
}

type ProjectRef struct {
	ProjectID string
	Ref       string
}

type Color string

const (
	Green  Color = "green"
	Red    Color = "red"
	Yellow Color = "yellow"
)

// ColorFor returns the indicator color for a status.
func ColorFor(s Status) Color {
	switch s {
	case StatusSuccess:
		return Green
	case StatusFailed:
		return Red
	default:
		return Yellow
	}
}

// OutputID addresses one physical output (a board pin).
type OutputID int

// NoOutput marks an unassigned output.
const NoOutput OutputID = -1

func (o OutputID) String() string { return strconv.Itoa(int(o)) }

// Outputs assigns physical outputs to one project.
type Outputs struct {
	Red    OutputID
	Green  OutputID
	Yellow OutputID
	Buzzer OutputID
}

// DefaultOutputs matches the single-board wiring: red 9, green 10, yellow 11, buzzer 5.
var DefaultOutputs = Outputs{Red: 9, Green: 10, Yellow: 11, Buzzer: 5}

func (o Outputs) Color(c Color) OutputID {
	switch c {
	case Green:
		return o.Green
	case Red:
		return o.Red
	case Yellow:
		return o.Yellow
	default:
		return NoOutput
	}
}

// Colors returns the status LEDs, without the buzzer.
func (o Outputs) Colors() []OutputID {
	return []OutputID{o.Red, o.Green, o.Yellow}
}

// All returns every assigned output including the buzzer.
func (o Outputs) All() []OutputID {
	out := o.Colors()
	if o.Buzzer != NoOutput {
		out = append(out, o.Buzzer)
	}
	return out
}

// Project is one tracked {project, branch} pair with its outputs.
type Project struct {
	Name    string
	Ref     ProjectRef
	Outputs Outputs
}

// Key identifies a project across config reloads.
func (p Project) Key() string {
	return p.Name + "|" + p.Ref.ProjectID + "|" + p.Ref.Ref + "|" +
		p.Outputs.Red.String() + "," + p.Outputs.Green.String() + "," +
		p.Outputs.Yellow.String() + "," + p.Outputs.Buzzer.String()
}

// Label is the human name of a project, falling back to its id.
func (p Project) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Ref.ProjectID
}

// ProjectState is the per-project memory of a tracker.
type ProjectState struct {
	Current  string
	Previous string
	InError  bool
}

// InitialState starts optimistic: the build is assumed green until told otherwise.
func InitialState() ProjectState {
	return ProjectState{Current: RawSuccess}
}

type Snapshot struct {
	Project   Project
	State     ProjectState
	Build     Build
	Retrieved int64
}
