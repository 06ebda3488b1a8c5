// Package dataset defines the repeated-measures data model shared by the
// generator and the model fitters: subjects with latent intercept/slope
// offsets, and the flat subject-major collection of their observations.
package dataset

import "fmt"

// Subject is one simulated participant. Intercept and Slope are the latent
// per-subject offsets drawn once and reused for every observation.
type Subject struct {
	ID        int
	Intercept float64
	Slope     float64
}

// Observation is a single measured value for a subject at a session index.
type Observation struct {
	SubjectID int
	Session   int
	Value     float64
}

// Dataset is the ordered collection of all subject x session observations.
// Observations are stored in generation order (subject-major, session-minor)
// and are never mutated after construction; derived quantities such as fitted
// values are computed as separate slices aligned with Observations.
type Dataset struct {
	Subjects     []Subject
	Observations []Observation
	NumSessions  int
}

// Len returns the total number of observations.
func (d *Dataset) Len() int { return len(d.Observations) }

// NumSubjects returns the number of distinct subjects.
func (d *Dataset) NumSubjects() int { return len(d.Subjects) }

// Group is the observations belonging to one subject, in session order.
type Group struct {
	SubjectID    int
	Observations []Observation
}

// Groups partitions the observations by subject, preserving first-seen
// subject order.
func (d *Dataset) Groups() []Group {
	var groups []Group
	idx := make(map[int]int)
	for _, obs := range d.Observations {
		gi, ok := idx[obs.SubjectID]
		if !ok {
			gi = len(groups)
			idx[obs.SubjectID] = gi
			groups = append(groups, Group{SubjectID: obs.SubjectID})
		}
		groups[gi].Observations = append(groups[gi].Observations, obs)
	}
	return groups
}

// Validate checks the shape invariants: a non-empty dataset where every
// subject appears with contiguous session indices 0..k.
func (d *Dataset) Validate() error {
	if len(d.Observations) == 0 {
		return fmt.Errorf("dataset has no observations")
	}
	for _, g := range d.Groups() {
		for i, obs := range g.Observations {
			if obs.Session != i {
				return fmt.Errorf("subject %d: session %d at position %d, want contiguous sessions starting at 0",
					g.SubjectID, obs.Session, i)
			}
		}
	}
	return nil
}
