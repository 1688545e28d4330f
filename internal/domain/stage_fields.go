package domain

import "time"

// Row is the common intermediate representation every ingestion format is
// parsed into before validation. Index is 1-based and excludes the header
// row; Cells maps sanitized column names to the raw cell text.
type Row struct {
	Index int
	Cells map[string]string
}

// P1Fields carries the typed stage-specific fields of a P1 row.
type P1Fields struct {
	Quantity int    `json:"quantity"`
	Operator string `json:"operator,omitempty"`
}

// P2Fields carries the typed stage-specific fields of a P2 unit row.
type P2Fields struct {
	WinderNo  int    `json:"winder_no"`
	Spec      string `json:"spec"`
	TapeLotNo string `json:"tape_lot_no,omitempty"`
	Quantity  int    `json:"quantity"`
}

// P3Fields carries the typed stage-specific fields of a P3 unit row.
type P3Fields struct {
	UnitNo   int    `json:"unit_no"`
	Spec     string `json:"spec"`
	SubLotNo string `json:"sub_lot_no,omitempty"`
	Quantity int    `json:"quantity"`
}

// RecordFields is the validated, normalized form of one row. Exactly one of
// P1, P2 or P3 is set, matching the stage tag; Extra keeps columns the stage
// contract does not anticipate, so unknown data survives round trips.
type RecordFields struct {
	Stage          Stage
	LotNo          string
	LotNoNorm      string
	ProductionDate time.Time
	MachineNo      string
	MoldNo         string

	P1 *P1Fields
	P2 *P2Fields
	P3 *P3Fields

	Extra map[string]string
}

// UnitNo returns the winder/unit number for stages that have one. The second
// value is false for P1 rows.
func (f RecordFields) UnitNo() (int, bool) {
	switch {
	case f.P2 != nil:
		return f.P2.WinderNo, true
	case f.P3 != nil:
		return f.P3.UnitNo, true
	}
	return 0, false
}

// SubLotFragment returns the unit-level sub-lot fragment used in the composed
// product identifier, or "" when the stage has none.
func (f RecordFields) SubLotFragment() string {
	switch {
	case f.P2 != nil:
		return f.P2.TapeLotNo
	case f.P3 != nil:
		return f.P3.SubLotNo
	}
	return ""
}

// StagedRow is a decoded row persisted with its job so the import step can
// run later without re-reading the original file.
type StagedRow struct {
	RowNo int               `json:"row_no"`
	Cells map[string]string `json:"cells"`
	Valid bool              `json:"valid"`
}
