package dataset

import (
	"math"

	"falseneg/internal/errors"
)

// Record is one study's test outcome tally for a single day since symptom
// onset: Positive of Tested RT-PCR tests on confirmed-infected subjects
// came back positive. Each record contributes one binomial likelihood term.
type Record struct {
	Study       string  `json:"study"`
	StudyIdx    int     `json:"study_idx"` // dense 1..J enumeration
	Day         int     `json:"day"`       // days since symptom onset
	Tested      int     `json:"n"`
	Positive    int     `json:"test_pos"`
	PctPositive float64 `json:"pct_pos"`
}

// AttackObservation is the household-contact cohort outcome: Positive of
// Exposed contacts became infected.
type AttackObservation struct {
	Exposed  int `json:"exposed_n"`
	Positive int `json:"exposed_pos"`
}

// Scale returns a copy with the positive count multiplied by factor,
// holding the exposed count fixed. Used by the attack-rate sensitivity
// scenarios (0.5x, 2x, 4x).
func (a AttackObservation) Scale(factor float64) AttackObservation {
	pos := int(math.Round(float64(a.Positive) * factor))
	if pos > a.Exposed {
		pos = a.Exposed
	}
	if pos < 0 {
		pos = 0
	}
	return AttackObservation{Exposed: a.Exposed, Positive: pos}
}

// Validate rejects degenerate cohort counts before sampling.
func (a AttackObservation) Validate() error {
	if a.Exposed <= 0 {
		return errors.Newf(errors.CodeValidationError, "attack observation: exposed count must be positive, got %d", a.Exposed)
	}
	if a.Positive < 0 || a.Positive > a.Exposed {
		return errors.Newf(errors.CodeValidationError, "attack observation: positive count %d outside [0, %d]", a.Positive, a.Exposed)
	}
	return nil
}

// Dataset is the immutable collection of observation records. Construct it
// through New, which validates the invariants the model relies on; after
// that it is safe to share across chains and scenarios without locks.
type Dataset struct {
	records []Record
	studies []string // study name per dense index, studies[i] has StudyIdx i+1
	horizon int
}

// New validates the records against the modeled horizon and freezes them
// into a Dataset. Validation errors identify the offending record.
func New(records []Record, horizon int) (*Dataset, error) {
	if horizon < 0 {
		return nil, errors.Newf(errors.CodeValidationError, "horizon must be non-negative, got %d", horizon)
	}
	if len(records) == 0 {
		return nil, errors.ValidationError("dataset has no observation records")
	}

	maxIdx := 0
	for _, r := range records {
		if r.StudyIdx > maxIdx {
			maxIdx = r.StudyIdx
		}
	}
	studies := make([]string, maxIdx)
	seen := make([]bool, maxIdx)

	rs := make([]Record, len(records))
	for i, r := range records {
		if r.Tested <= 0 {
			return nil, errors.Newf(errors.CodeValidationError,
				"record %d (study %q day %d): tested count must be positive, got %d", i, r.Study, r.Day, r.Tested)
		}
		if r.Positive < 0 || r.Positive > r.Tested {
			return nil, errors.Newf(errors.CodeValidationError,
				"record %d (study %q day %d): positive count %d outside [0, %d]", i, r.Study, r.Day, r.Positive, r.Tested)
		}
		if r.Day < 0 || r.Day > horizon {
			return nil, errors.Newf(errors.CodeValidationError,
				"record %d (study %q): day %d outside modeled horizon [0, %d]", i, r.Study, r.Day, horizon)
		}
		if r.StudyIdx < 1 || r.StudyIdx > maxIdx {
			return nil, errors.Newf(errors.CodeValidationError,
				"record %d (study %q): study index %d outside [1, %d]", i, r.Study, r.StudyIdx, maxIdx)
		}
		j := r.StudyIdx - 1
		if seen[j] && studies[j] != r.Study {
			return nil, errors.Newf(errors.CodeValidationError,
				"record %d: study index %d claimed by both %q and %q", i, r.StudyIdx, studies[j], r.Study)
		}
		studies[j] = r.Study
		seen[j] = true
		r.PctPositive = float64(r.Positive) / float64(r.Tested)
		rs[i] = r
	}
	for j, ok := range seen {
		if !ok {
			return nil, errors.Newf(errors.CodeValidationError,
				"study indices are not dense: index %d has no records", j+1)
		}
	}
	return &Dataset{records: rs, studies: studies, horizon: horizon}, nil
}

// FromRows assigns dense study indices in first-appearance order and
// builds the dataset. Loaders use this so the on-disk file never carries
// an explicit index column.
func FromRows(rows []Record, horizon int) (*Dataset, error) {
	idx := make(map[string]int)
	records := make([]Record, len(rows))
	for i, r := range rows {
		j, ok := idx[r.Study]
		if !ok {
			j = len(idx) + 1
			idx[r.Study] = j
		}
		r.StudyIdx = j
		records[i] = r
	}
	return New(records, horizon)
}

// Records returns a copy of the observation records.
func (d *Dataset) Records() []Record {
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// Record returns the i-th observation record.
func (d *Dataset) Record(i int) Record { return d.records[i] }

// Len returns the number of observation records.
func (d *Dataset) Len() int { return len(d.records) }

// NumStudies returns J, the size of the dense study enumeration.
func (d *Dataset) NumStudies() int { return len(d.studies) }

// Studies returns the study names ordered by dense index.
func (d *Dataset) Studies() []string {
	out := make([]string, len(d.studies))
	copy(out, d.studies)
	return out
}

// Horizon returns the last modeled day since exposure.
func (d *Dataset) Horizon() int { return d.horizon }

// DaysObserved reports, per day since onset, the number of records
// observed at that day. Days with a zero count are covered only by
// polynomial extrapolation.
func (d *Dataset) DaysObserved() map[int]int {
	counts := make(map[int]int)
	for _, r := range d.records {
		counts[r.Day]++
	}
	return counts
}
