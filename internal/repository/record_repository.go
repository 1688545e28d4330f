package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// recordRepository implements RecordRepository backed by pgxpool.
type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

// ImportBatch writes one import atomically. Concurrent imports of the same
// (tenant, stage, lot_no_norm) group serialize on an advisory lock held for
// the transaction; different groups do not block each other.
func (r *recordRepository) ImportBatch(ctx context.Context, batch ImportBatch) (ImportOutcome, error) {
	var outcome ImportOutcome

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return outcome, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, group := range batch.Groups {
		groupKey := fmt.Sprintf("%s|%s|%s", batch.TenantID, batch.Stage, group.Record.LotNoNorm)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, groupKey); err != nil {
			return ImportOutcome{}, fmt.Errorf("failed to lock import group: %w", err)
		}

		if err := supersedeGroup(ctx, tx, batch.TenantID, batch.Stage, group.Record.LotNoNorm); err != nil {
			return ImportOutcome{}, err
		}

		imported, duplicates, err := insertGroup(ctx, tx, group)
		if err != nil {
			return ImportOutcome{}, err
		}
		outcome.ImportedRows += imported
		outcome.DuplicateRows += duplicates
	}

	tag, err := tx.Exec(ctx,
		`UPDATE upload_jobs
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		batch.JobID, domain.JobStatusImported, domain.JobStatusValidated,
	)
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("failed to mark job imported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ImportOutcome{}, domain.ErrJobAlreadyImported
	}

	if err := tx.Commit(ctx); err != nil {
		return ImportOutcome{}, fmt.Errorf("failed to commit import: %w", err)
	}
	return outcome, nil
}

// supersedeGroup removes the live parent of the group, children first then
// parent, so a re-import replaces rather than duplicates.
func supersedeGroup(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, stage domain.Stage, lotNoNorm string) error {
	var existingID uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM records WHERE tenant_id = $1 AND stage = $2 AND lot_no_norm = $3`,
		tenantID, stage, lotNoNorm,
	).Scan(&existingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up superseded record: %w", err)
	}

	return deleteRecordTx(ctx, tx, existingID)
}

// deleteRecordTx is the explicit two-step cascade: children by parent key,
// then the parent, inside the caller's transaction.
func deleteRecordTx(ctx context.Context, tx pgx.Tx, recordID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM record_items WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM records WHERE id = $1`, recordID); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func insertGroup(ctx context.Context, tx pgx.Tx, group ImportGroup) (imported, duplicates int, err error) {
	rec := group.Record
	extras, err := json.Marshal(rec.Extras)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal record extras: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO records (id, tenant_id, job_id, stage, lot_no, lot_no_norm,
		                      production_date, machine_no, mold_no, extras)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TenantID, rec.JobID, rec.Stage, rec.LotNo, rec.LotNoNorm,
		rec.ProductionDate, rec.MachineNo, rec.MoldNo, extras,
	); err != nil {
		return 0, 0, fmt.Errorf("failed to insert record: %w", err)
	}
	if !rec.Stage.HasItems() {
		imported += group.SourceRows
	}

	for _, item := range group.Items {
		raw, err := json.Marshal(item.Raw)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to marshal item payload: %w", err)
		}

		var productID any
		if item.ProductID != "" {
			productID = item.ProductID
		}

		// A product id collision means the same logical unit already exists:
		// skip the row, count it, keep going.
		tag, err := tx.Exec(ctx,
			`INSERT INTO record_items (id, record_id, row_no, product_id, winder_no,
			                           spec, sub_lot_no, quantity, raw)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (product_id) DO NOTHING`,
			item.ID, item.RecordID, item.RowNo, productID, item.WinderNo,
			item.Spec, item.SubLotNo, item.Quantity, raw,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert item row %d: %w", item.RowNo, err)
		}
		if tag.RowsAffected() == 0 {
			duplicates++
			continue
		}
		imported++
	}

	return imported, duplicates, nil
}

// ListWithItems reads parents and children inside one repeatable-read
// transaction so a query never observes a half-written import.
func (r *recordRepository) ListWithItems(ctx context.Context, tenantID uuid.UUID, filter domain.RecordFilter) ([]domain.RecordWithItems, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin query transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	records, err := queryRecords(ctx, tx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []domain.RecordWithItems{}, nil
	}

	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	itemsByRecord, err := queryItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to close query transaction: %w", err)
	}

	out := make([]domain.RecordWithItems, len(records))
	for i, rec := range records {
		items := itemsByRecord[rec.ID]
		if items == nil {
			items = []domain.Item{}
		}
		out[i] = domain.RecordWithItems{Record: rec, Items: items}
	}
	return out, nil
}

func queryRecords(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, filter domain.RecordFilter) ([]domain.Record, error) {
	var (
		conditions = []string{"tenant_id = $1"}
		args       = []any{tenantID}
	)

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, strings.ReplaceAll(condition, "?", "$"+strconv.Itoa(len(args))))
	}

	if filter.Stage != "" {
		add("stage = ?", filter.Stage)
	}
	if filter.LotNo != "" {
		add("lot_no_norm = ?", filter.LotNo)
	}
	if filter.MachineNo != "" {
		add("machine_no = ?", filter.MachineNo)
	}
	if filter.DateFrom != nil {
		add("production_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("production_date <= ?", *filter.DateTo)
	}

	query := `SELECT id, tenant_id, job_id, stage, lot_no, lot_no_norm,
	                 production_date, machine_no, mold_no, extras, created_at, updated_at
	          FROM records
	          WHERE ` + strings.Join(conditions, " AND ") + `
	          ORDER BY production_date, lot_no_norm`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func queryItems(ctx context.Context, tx pgx.Tx, recordIDs []uuid.UUID) (map[uuid.UUID][]domain.Item, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, record_id, row_no, product_id, winder_no, spec, sub_lot_no, quantity, raw, created_at
		 FROM record_items
		 WHERE record_id = ANY($1)
		 ORDER BY record_id, row_no`,
		recordIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	byRecord := map[uuid.UUID][]domain.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byRecord[item.RecordID] = append(byRecord[item.RecordID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return byRecord, nil
}

func (r *recordRepository) ListByLotNorm(ctx context.Context, tenantID uuid.UUID, stage domain.Stage, lotNoNorm string) ([]domain.Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, job_id, stage, lot_no, lot_no_norm,
		        production_date, machine_no, mold_no, extras, created_at, updated_at
		 FROM records
		 WHERE tenant_id = $1 AND stage = $2 AND lot_no_norm = $3
		 ORDER BY production_date`,
		tenantID, stage, lotNoNorm,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by lot: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records by lot: %w", err)
	}
	return records, nil
}

func (r *recordRepository) FindItemByProductID(ctx context.Context, tenantID uuid.UUID, productID string) (domain.Item, domain.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT i.id, i.record_id, i.row_no, i.product_id, i.winder_no, i.spec,
		        i.sub_lot_no, i.quantity, i.raw, i.created_at,
		        r.id, r.tenant_id, r.job_id, r.stage, r.lot_no, r.lot_no_norm,
		        r.production_date, r.machine_no, r.mold_no, r.extras, r.created_at, r.updated_at
		 FROM record_items i
		 JOIN records r ON r.id = i.record_id
		 WHERE r.tenant_id = $1 AND i.product_id = $2`,
		tenantID, productID,
	)

	var (
		item       domain.Item
		rec        domain.Record
		itemProd   *string
		itemRaw    []byte
		recExtras  []byte
		prodDate   time.Time
		recCreated time.Time
	)
	err := row.Scan(
		&item.ID, &item.RecordID, &item.RowNo, &itemProd, &item.WinderNo, &item.Spec,
		&item.SubLotNo, &item.Quantity, &itemRaw, &item.CreatedAt,
		&rec.ID, &rec.TenantID, &rec.JobID, &rec.Stage, &rec.LotNo, &rec.LotNoNorm,
		&prodDate, &rec.MachineNo, &rec.MoldNo, &recExtras, &recCreated, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.Record{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, domain.Record{}, fmt.Errorf("failed to find item by product id: %w", err)
	}

	if itemProd != nil {
		item.ProductID = *itemProd
	}
	if err := json.Unmarshal(itemRaw, &item.Raw); err != nil {
		return domain.Item{}, domain.Record{}, fmt.Errorf("failed to decode item payload: %w", err)
	}
	if err := json.Unmarshal(recExtras, &rec.Extras); err != nil {
		return domain.Item{}, domain.Record{}, fmt.Errorf("failed to decode record extras: %w", err)
	}
	rec.ProductionDate = prodDate
	rec.CreatedAt = recCreated
	return item, rec, nil
}

func scanRecord(rows pgx.Rows) (domain.Record, error) {
	var (
		rec    domain.Record
		extras []byte
	)
	if err := rows.Scan(
		&rec.ID, &rec.TenantID, &rec.JobID, &rec.Stage, &rec.LotNo, &rec.LotNoNorm,
		&rec.ProductionDate, &rec.MachineNo, &rec.MoldNo, &extras, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	if err := json.Unmarshal(extras, &rec.Extras); err != nil {
		return domain.Record{}, fmt.Errorf("failed to decode record extras: %w", err)
	}
	return rec, nil
}

func scanItem(rows pgx.Rows) (domain.Item, error) {
	var (
		item      domain.Item
		productID *string
		raw       []byte
	)
	if err := rows.Scan(
		&item.ID, &item.RecordID, &item.RowNo, &productID, &item.WinderNo,
		&item.Spec, &item.SubLotNo, &item.Quantity, &raw, &item.CreatedAt,
	); err != nil {
		return domain.Item{}, fmt.Errorf("failed to scan item: %w", err)
	}
	if productID != nil {
		item.ProductID = *productID
	}
	if err := json.Unmarshal(raw, &item.Raw); err != nil {
		return domain.Item{}, fmt.Errorf("failed to decode item payload: %w", err)
	}
	return item, nil
}
