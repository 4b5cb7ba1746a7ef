package tle

import "time"

// Record is a single satellite's validated two-line element set.
// Build it with NewRecord; consumers take it by value and never modify it.
type Record struct {
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name,omitempty"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete set of element sets fetched from one provider pull.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Record
}

// NewDataset builds a Dataset and computes its epoch range.
func NewDataset(source string, fetchedAt time.Time, records []Record) *Dataset {
	ds := &Dataset{
		Source:     source,
		FetchedAt:  fetchedAt,
		Satellites: records,
	}
	if len(records) == 0 {
		return ds
	}

	ds.EpochRange = EpochRange{Min: records[0].Epoch, Max: records[0].Epoch}
	for _, r := range records[1:] {
		if r.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = r.Epoch
		}
		if r.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = r.Epoch
		}
	}
	return ds
}

// Find returns the record with the given catalog number.
func (ds *Dataset) Find(noradID int) (Record, bool) {
	if ds == nil {
		return Record{}, false
	}
	for _, r := range ds.Satellites {
		if r.NORADID == noradID {
			return r, true
		}
	}
	return Record{}, false
}
