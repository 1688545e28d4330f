package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage tags the production phase a record belongs to. P1, P2 and P3 are
// sequential; later stages reference earlier ones through the normalized lot
// number.
type Stage string

const (
	StageP1 Stage = "P1"
	StageP2 Stage = "P2"
	StageP3 Stage = "P3"
)

// Valid reports whether s is a known stage tag.
func (s Stage) Valid() bool {
	switch s {
	case StageP1, StageP2, StageP3:
		return true
	}
	return false
}

// HasItems reports whether records of this stage carry unit-level child rows.
// P1 records have no children and always answer queries in detail shape.
func (s Stage) HasItems() bool {
	return s == StageP2 || s == StageP3
}

// Record is the parent row of one import group: one per (tenant, stage,
// normalized lot number) per import cycle. Re-import supersedes the previous
// parent, it never duplicates it.
type Record struct {
	ID             uuid.UUID         `json:"id"`
	TenantID       uuid.UUID         `json:"tenant_id"`
	JobID          uuid.UUID         `json:"job_id"`
	Stage          Stage             `json:"stage"`
	LotNo          string            `json:"lot_no"`
	LotNoNorm      string            `json:"lot_no_norm"`
	ProductionDate time.Time         `json:"production_date"`
	MachineNo      string            `json:"machine_no"`
	MoldNo         string            `json:"mold_no"`
	Extras         map[string]string `json:"extras"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Item is a unit-level child row of a P2 or P3 record. It is exclusively
// owned by its parent and deleted with it. RowNo is the 1-based position of
// the row in the originally uploaded file, not within the group.
type Item struct {
	ID        uuid.UUID         `json:"id"`
	RecordID  uuid.UUID         `json:"record_id"`
	RowNo     int               `json:"row_no"`
	ProductID string            `json:"product_id,omitempty"`
	WinderNo  int               `json:"winder_no"`
	Spec      string            `json:"spec"`
	SubLotNo  string            `json:"sub_lot_no"`
	Quantity  int               `json:"quantity"`
	Raw       map[string]string `json:"raw"`
	CreatedAt time.Time         `json:"created_at"`
}

// RecordWithItems pairs a parent with its live children as observed in one
// consistent snapshot.
type RecordWithItems struct {
	Record Record
	Items  []Item
}

// Lineage is the answer to a traceability query keyed by a P3 item's product
// identifier. Missing P2/P1 counterparts are reported as absent, never
// fabricated.
type Lineage struct {
	Item      Item     `json:"item"`
	P3Record  Record   `json:"p3_record"`
	P2Records []Record `json:"p2_records"`
	P1Records []Record `json:"p1_records"`
}
