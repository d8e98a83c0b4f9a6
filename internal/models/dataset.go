package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrFrozen is returned by dataset mutators after Freeze has been called.
var ErrFrozen = errors.New("dataset is frozen")

// Range is a half-open time range [Start, End). A 24 hour range at 30 minute
// resolution therefore spans exactly 48 grid points.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("range bounds cannot be zero")
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("range start %s must be before end %s",
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether ts falls within the half-open range.
func (r Range) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && ts.Before(r.End)
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// GridSize returns the number of grid points the range spans at the given
// resolution.
func (r Range) GridSize(res Resolution) int {
	step := res.Duration()
	if step <= 0 {
		return 0
	}
	n := r.Duration() / step
	if r.Duration()%step != 0 {
		n++
	}
	return int(n)
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// Entry is the state of one grid point within a dataset: a record, an explicit
// gap, or neither when the pipeline has not yet accounted for the point.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Record    *Record   `json:"record,omitempty"`
	Gap       *Gap      `json:"gap,omitempty"`
}

// IsGap reports whether the grid point is an explicit gap.
func (e Entry) IsGap() bool { return e.Gap != nil }

// HasRecord reports whether the grid point carries an observation.
func (e Entry) HasRecord() bool { return e.Record != nil }

// Empty reports whether the grid point is not yet accounted for.
func (e Entry) Empty() bool { return e.Record == nil && e.Gap == nil }

// Dataset is an ordered sequence of grid-point entries for one region over a
// contiguous requested range. The pipeline mutates it in place (validator,
// detector, imputer) and freezes it before persistence; a frozen dataset
// rejects further mutation.
type Dataset struct {
	// ID is a unique provenance identifier for this retrieval.
	ID string `json:"id"`
	// Region is the NEM region all records belong to.
	Region Region `json:"region"`
	// Resolution is the shared grid spacing of all entries.
	Resolution Resolution `json:"resolution"`
	// Requested is the half-open range the caller asked for.
	Requested Range `json:"requested_range"`
	// RetrievedAt records when the source fetch completed.
	RetrievedAt time.Time `json:"retrieval_timestamp"`
	// Source names the provider the data came from.
	Source string `json:"source_provenance"`

	entries []Entry
	frozen  bool
}

// NewDataset creates an empty mutable dataset with one slot per grid point in
// the requested range. The range start anchors the grid.
func NewDataset(region Region, res Resolution, requested Range, source string) (*Dataset, error) {
	if !region.Valid() {
		return nil, fmt.Errorf("invalid region %q", region)
	}
	if !res.Valid() {
		return nil, fmt.Errorf("invalid resolution %q", res)
	}
	if err := requested.Validate(); err != nil {
		return nil, err
	}

	n := requested.GridSize(res)
	entries := make([]Entry, n)
	step := res.Duration()
	for i := range entries {
		entries[i].Timestamp = requested.Start.Add(time.Duration(i) * step)
	}

	return &Dataset{
		ID:          uuid.NewString(),
		Region:      region,
		Resolution:  res,
		Requested:   requested,
		RetrievedAt: time.Now().In(MarketTime),
		Source:      source,
		entries:     entries,
	}, nil
}

// GridSize returns the number of grid points in the dataset.
func (d *Dataset) GridSize() int { return len(d.entries) }

// index maps an aligned timestamp to its grid slot.
func (d *Dataset) index(ts time.Time) (int, error) {
	if !d.Requested.Contains(ts) {
		return 0, fmt.Errorf("timestamp %s outside requested range %s",
			ts.Format(time.RFC3339), d.Requested)
	}
	offset := ts.Sub(d.Requested.Start)
	step := d.Resolution.Duration()
	if offset%step != 0 {
		return 0, fmt.Errorf("timestamp %s not aligned to %s grid", ts.Format(time.RFC3339), d.Resolution)
	}
	return int(offset / step), nil
}

// SetRecord places an observation on its grid slot, replacing any previous
// record or gap at that timestamp.
func (d *Dataset) SetRecord(rec *Record) error {
	if d.frozen {
		return ErrFrozen
	}
	if rec.Region != d.Region {
		return fmt.Errorf("record region %s does not match dataset region %s", rec.Region, d.Region)
	}
	i, err := d.index(rec.Timestamp)
	if err != nil {
		return err
	}
	d.entries[i].Record = rec
	d.entries[i].Gap = nil
	return nil
}

// SetGap marks a grid timestamp as an explicit gap. A gap never replaces an
// existing record.
func (d *Dataset) SetGap(ts time.Time, reason GapReason) error {
	if d.frozen {
		return ErrFrozen
	}
	i, err := d.index(ts)
	if err != nil {
		return err
	}
	if d.entries[i].Record != nil {
		return fmt.Errorf("grid point %s already holds a record", ts.Format(time.RFC3339))
	}
	d.entries[i].Gap = &Gap{Region: d.Region, Timestamp: d.entries[i].Timestamp, Reason: reason}
	d.entries[i].Record = nil
	return nil
}

// EntryAt returns the entry for an aligned in-range timestamp.
func (d *Dataset) EntryAt(ts time.Time) (Entry, bool) {
	i, err := d.index(ts)
	if err != nil {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Entries returns the grid entries in timestamp order. The returned slice is
// shared; callers must treat it as read only.
func (d *Dataset) Entries() []Entry { return d.entries }

// Records returns all observations in timestamp order.
func (d *Dataset) Records() []*Record {
	recs := make([]*Record, 0, len(d.entries))
	for _, e := range d.entries {
		if e.Record != nil {
			recs = append(recs, e.Record)
		}
	}
	return recs
}

// Gaps returns all explicit gaps in timestamp order.
func (d *Dataset) Gaps() []Gap {
	var gaps []Gap
	for _, e := range d.entries {
		if e.Gap != nil {
			gaps = append(gaps, *e.Gap)
		}
	}
	return gaps
}

// Missing returns grid timestamps not yet accounted for by either a record or
// an explicit gap. A complete dataset returns none.
func (d *Dataset) Missing() []time.Time {
	var missing []time.Time
	for _, e := range d.entries {
		if e.Empty() {
			missing = append(missing, e.Timestamp)
		}
	}
	return missing
}

// Complete reports whether every grid point holds a record or an explicit gap.
func (d *Dataset) Complete() bool {
	return len(d.Missing()) == 0
}

// ImputedCount returns the number of synthesized records.
func (d *Dataset) ImputedCount() int {
	n := 0
	for _, e := range d.entries {
		if e.Record != nil && e.Record.Imputed {
			n++
		}
	}
	return n
}

// Slice copies the entries within sub into a new mutable dataset covering
// exactly that sub-range. Records are cloned, so the slice and its parent
// never alias. The sub-range must sit inside the requested range and start on
// a grid point.
func (d *Dataset) Slice(sub Range) (*Dataset, error) {
	if _, err := d.index(sub.Start); err != nil {
		return nil, err
	}
	if sub.End.After(d.Requested.End) {
		return nil, fmt.Errorf("sub-range %s extends past requested range %s", sub, d.Requested)
	}

	out, err := NewDataset(d.Region, d.Resolution, sub, d.Source)
	if err != nil {
		return nil, err
	}
	out.RetrievedAt = d.RetrievedAt

	for _, e := range d.entries {
		if !sub.Contains(e.Timestamp) {
			continue
		}
		switch {
		case e.Record != nil:
			if err := out.SetRecord(e.Record.Clone()); err != nil {
				return nil, err
			}
		case e.Gap != nil:
			if err := out.SetGap(e.Timestamp, e.Gap.Reason); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Freeze makes the dataset immutable. Subsequent mutators return ErrFrozen.
func (d *Dataset) Freeze() { d.frozen = true }

// Frozen reports whether the dataset has been frozen.
func (d *Dataset) Frozen() bool { return d.frozen }

// String implements fmt.Stringer.
func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset{%s %s %s records=%d gaps=%d imputed=%d}",
		d.Region, d.Resolution, d.Requested, len(d.Records()), len(d.Gaps()), d.ImputedCount())
}

// Table is a row-oriented view of a dataset handed to external sinks such as
// the plotting stage. Cells are rendered as strings; absent values and gap
// rows carry empty cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Table renders the dataset as a table with a timestamp column followed by the
// requested fields (all known fields when fields is nil). When dropEmpty is
// set, columns never observed in any record are elided and their names
// returned.
func (d *Dataset) Table(fields []FieldName, dropEmpty bool) (*Table, []string) {
	if fields == nil {
		fields = AllFields()
	}

	var removed []string
	if dropEmpty {
		kept := make([]FieldName, 0, len(fields))
		for _, f := range fields {
			observed := false
			for _, rec := range d.Records() {
				if _, ok := rec.Value(f); ok {
					observed = true
					break
				}
			}
			if observed {
				kept = append(kept, f)
			} else {
				removed = append(removed, string(f))
			}
		}
		fields = kept
	}

	columns := make([]string, 0, len(fields)+1)
	columns = append(columns, "timestamp")
	for _, f := range fields {
		columns = append(columns, string(f))
	}

	rows := make([][]string, 0, len(d.entries))
	for _, e := range d.entries {
		row := make([]string, len(columns))
		row[0] = e.Timestamp.Format(time.RFC3339)
		if e.Record != nil {
			for i, f := range fields {
				if v, ok := e.Record.Value(f); ok {
					row[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
				}
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows}, removed
}
