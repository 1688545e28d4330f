// Package query assembles parent/child records into the shape a traceability
// caller expects. The same stored data answers in two shapes: merge mode
// aggregates a parent's unit rows into one record, detail mode returns
// individual units. It also walks cross-stage lineage (P3 -> P2 -> P1).
package query

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/normalize"
	"github.com/prodtrace/prodtrace/internal/repository"
)

// Mode reports which output shape a query produced.
type Mode string

const (
	ModeMerge  Mode = "merge"
	ModeDetail Mode = "detail"
)

// Correlator answers record queries and lineage lookups.
type Correlator struct {
	records repository.RecordRepository
	logger  *zap.Logger
}

// NewCorrelator creates a correlator over the record store.
func NewCorrelator(records repository.RecordRepository, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{records: records, logger: logger}
}

// Result is one query answer. Records are JSON-ready payloads whose shape
// depends on the mode: merge-mode payloads carry additional_data.rows, detail
// payloads are flat.
type Result struct {
	Mode    Mode             `json:"mode"`
	Records []map[string]any `json:"records"`
}

// Query runs a filtered record query. A unit-level filter (winder number)
// suppresses merging and returns one payload per matching unit; without it,
// each parent aggregates its units into additional_data.rows. Stages without
// child items always answer in detail shape.
func (c *Correlator) Query(ctx context.Context, tenantID uuid.UUID, filter domain.RecordFilter) (Result, error) {
	if filter.LotNo != "" {
		filter.LotNo = normalize.LotNo(filter.LotNo)
	}

	matches, err := c.records.ListWithItems(ctx, tenantID, filter)
	if err != nil {
		return Result{}, err
	}

	if filter.UnitScoped() {
		return Result{Mode: ModeDetail, Records: c.detail(matches, *filter.WinderNo)}, nil
	}
	return Result{Mode: ModeMerge, Records: c.merge(matches)}, nil
}

// merge produces one payload per parent. Units become a flat sequence of
// rows, ordered by row_no, each with the unit identifier injected. A parent
// with zero children still carries an empty rows sequence, never a missing
// field.
func (c *Correlator) merge(matches []domain.RecordWithItems) []map[string]any {
	out := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		payload := recordPayload(match.Record)
		if !match.Record.Stage.HasItems() {
			out = append(out, payload)
			continue
		}

		rows := make([]map[string]any, 0, len(match.Items))
		for _, item := range match.Items {
			rows = append(rows, itemFields(item))
		}
		payload["additional_data"] = map[string]any{"rows": rows}
		out = append(out, payload)
	}
	return out
}

// detail suppresses merging: one payload per matching unit, the unit's own
// fields at the top level with no rows wrapper. Parents without items (P1)
// pass through as-is.
func (c *Correlator) detail(matches []domain.RecordWithItems, winderNo int) []map[string]any {
	out := []map[string]any{}
	for _, match := range matches {
		if !match.Record.Stage.HasItems() {
			out = append(out, recordPayload(match.Record))
			continue
		}
		for _, item := range match.Items {
			if item.WinderNo != winderNo {
				continue
			}
			payload := recordPayload(match.Record)
			for k, v := range itemFields(item) {
				payload[k] = v
			}
			out = append(out, payload)
		}
	}
	return out
}

// Lineage reconstructs the trace for one P3 unit: the item, its parent P3
// record, then P2 and P1 records matched by normalized lot number. A missing
// earlier-stage counterpart is reported as an absent link, never fabricated;
// only an unknown product id fails the request.
func (c *Correlator) Lineage(ctx context.Context, tenantID uuid.UUID, productID string) (domain.Lineage, error) {
	item, record, err := c.records.FindItemByProductID(ctx, tenantID, productID)
	if err != nil {
		return domain.Lineage{}, err
	}

	lineage := domain.Lineage{Item: item, P3Record: record}

	if record.Stage == domain.StageP3 {
		p2, err := c.records.ListByLotNorm(ctx, tenantID, domain.StageP2, record.LotNoNorm)
		if err != nil {
			return domain.Lineage{}, err
		}
		if len(p2) > 0 {
			lineage.P2Records = p2
		}
	}

	p1, err := c.records.ListByLotNorm(ctx, tenantID, domain.StageP1, record.LotNoNorm)
	if err != nil {
		return domain.Lineage{}, err
	}
	if len(p1) > 0 {
		lineage.P1Records = p1
	}

	if lineage.P2Records == nil || lineage.P1Records == nil {
		c.logger.Debug("lineage has missing links",
			zap.String("product_id", productID),
			zap.Bool("p2_missing", lineage.P2Records == nil),
			zap.Bool("p1_missing", lineage.P1Records == nil),
		)
	}

	return lineage, nil
}

func recordPayload(rec domain.Record) map[string]any {
	payload := map[string]any{
		"record_id":       rec.ID.String(),
		"stage":           string(rec.Stage),
		"lot_no":          rec.LotNo,
		"lot_no_norm":     rec.LotNoNorm,
		"production_date": rec.ProductionDate.Format("2006-01-02"),
		"machine_no":      rec.MachineNo,
		"mold_no":         rec.MoldNo,
	}
	if len(rec.Extras) > 0 {
		payload["extras"] = rec.Extras
	}
	return payload
}

// itemFields flattens one unit's stage-specific fields with the unit
// identifier injected for downstream reference.
func itemFields(item domain.Item) map[string]any {
	fields := map[string]any{
		"row_no":    item.RowNo,
		"winder_no": item.WinderNo,
		"spec":      item.Spec,
		"quantity":  item.Quantity,
	}
	if item.SubLotNo != "" {
		fields["sub_lot_no"] = item.SubLotNo
	}
	if item.ProductID != "" {
		fields["product_id"] = item.ProductID
	}
	return fields
}
