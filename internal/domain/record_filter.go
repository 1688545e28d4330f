package domain

import "time"

// RecordFilter narrows record queries. A non-nil WinderNo is a unit-level
// filter and switches the correlator from merge mode to detail mode for
// stages that have items.
type RecordFilter struct {
	Stage     Stage
	LotNo     string
	DateFrom  *time.Time
	DateTo    *time.Time
	MachineNo string
	WinderNo  *int
	Limit     int
	Offset    int
}

// UnitScoped reports whether the filter targets individual units.
func (f RecordFilter) UnitScoped() bool {
	return f.WinderNo != nil
}
