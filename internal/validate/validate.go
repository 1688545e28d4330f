// Package validate applies per-field contracts to decoded rows. Validation
// collects every field error of a row before moving on, and a failing row
// never stops validation of later rows.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/normalize"
)

// maxTextLength is the contract limit for free-text fields.
const maxTextLength = 100

const dateLayout = "2006-01-02"

// RuleKind selects the per-field rule applied to a raw cell.
type RuleKind int

const (
	RuleLotNo RuleKind = iota
	RuleText
	RuleQuantity
	RuleDate
)

// FieldRule binds a column name to its contract.
type FieldRule struct {
	Name     string
	Kind     RuleKind
	Required bool
}

// ContractFor returns the ordered field contract of a stage. Columns outside
// the contract are preserved as residual extras, never rejected.
func ContractFor(stage domain.Stage) []FieldRule {
	switch stage {
	case domain.StageP1:
		return []FieldRule{
			{Name: "lot_no", Kind: RuleLotNo, Required: true},
			{Name: "production_date", Kind: RuleDate, Required: true},
			{Name: "machine_no", Kind: RuleText, Required: true},
			{Name: "quantity", Kind: RuleQuantity, Required: true},
			{Name: "operator", Kind: RuleText, Required: false},
		}
	case domain.StageP2:
		return []FieldRule{
			{Name: "lot_no", Kind: RuleLotNo, Required: true},
			{Name: "production_date", Kind: RuleDate, Required: true},
			{Name: "machine_no", Kind: RuleText, Required: true},
			{Name: "mold_no", Kind: RuleText, Required: true},
			{Name: "winder_no", Kind: RuleQuantity, Required: false},
			{Name: "spec", Kind: RuleText, Required: true},
			{Name: "tape_lot_no", Kind: RuleText, Required: false},
			{Name: "quantity", Kind: RuleQuantity, Required: true},
		}
	case domain.StageP3:
		return []FieldRule{
			{Name: "lot_no", Kind: RuleLotNo, Required: true},
			{Name: "production_date", Kind: RuleDate, Required: true},
			{Name: "machine_no", Kind: RuleText, Required: true},
			{Name: "mold_no", Kind: RuleText, Required: true},
			{Name: "unit_no", Kind: RuleQuantity, Required: false},
			{Name: "spec", Kind: RuleText, Required: true},
			{Name: "sub_lot_no", Kind: RuleText, Required: false},
			{Name: "quantity", Kind: RuleQuantity, Required: true},
		}
	}
	return nil
}

// Row validates one decoded row against the stage contract. It returns the
// typed, normalized fields when the row is valid, or the full ordered list of
// field errors when it is not. A row is valid iff it produces zero errors.
func Row(jobID uuid.UUID, stage domain.Stage, row domain.Row) (domain.RecordFields, []domain.ValidationError) {
	contract := ContractFor(stage)
	var errs []domain.ValidationError

	values := make(map[string]string, len(contract))
	contracted := make(map[string]bool, len(contract))

	for _, rule := range contract {
		contracted[rule.Name] = true
		raw := strings.TrimSpace(row.Cells[rule.Name])

		if raw == "" {
			if rule.Required {
				errs = append(errs, domain.NewValidationError(
					jobID, row.Index, rule.Name, domain.ErrCodeRequiredField,
					fmt.Sprintf("%s is required", rule.Name),
				))
			}
			continue
		}

		switch rule.Kind {
		case RuleLotNo:
			norm := normalize.LotNo(raw)
			if !normalize.IsCanonicalLot(norm) {
				errs = append(errs, domain.NewValidationError(
					jobID, row.Index, rule.Name, domain.ErrCodeInvalidFormat,
					fmt.Sprintf("lot number %q does not normalize to NNNNNNN_NN", raw),
				))
				continue
			}
			values[rule.Name] = norm
			values[rule.Name+"_raw"] = raw
		case RuleText:
			if len(raw) > maxTextLength {
				errs = append(errs, domain.NewValidationError(
					jobID, row.Index, rule.Name, domain.ErrCodeOutOfRange,
					fmt.Sprintf("%s %q exceeds %d characters", rule.Name, truncate(raw), maxTextLength),
				))
				continue
			}
			values[rule.Name] = raw
		case RuleQuantity:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				errs = append(errs, domain.NewValidationError(
					jobID, row.Index, rule.Name, domain.ErrCodeInvalidValue,
					fmt.Sprintf("%s %q is not a non-negative integer", rule.Name, raw),
				))
				continue
			}
			values[rule.Name] = raw
		case RuleDate:
			if _, err := time.Parse(dateLayout, raw); err != nil {
				errs = append(errs, domain.NewValidationError(
					jobID, row.Index, rule.Name, domain.ErrCodeInvalidFormat,
					fmt.Sprintf("%s %q is not a valid YYYY-MM-DD date", rule.Name, raw),
				))
				continue
			}
			values[rule.Name] = raw
		}
	}

	if len(errs) > 0 {
		return domain.RecordFields{}, errs
	}

	return buildFields(stage, row, values, contracted), nil
}

// Result partitions the rows of one job.
type Result struct {
	Valid  []ValidRow
	Errors []domain.ValidationError
}

// ValidRow pairs a row's original file position with its typed fields and the
// verbatim payload preserved for audit.
type ValidRow struct {
	RowNo  int
	Fields domain.RecordFields
	Raw    map[string]string
}

// Rows validates every row of a job in file order. Failure of one row never
// prevents validation of later rows.
func Rows(jobID uuid.UUID, stage domain.Stage, rows []domain.Row) Result {
	var result Result
	for _, row := range rows {
		fields, errs := Row(jobID, stage, row)
		if len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
			continue
		}
		result.Valid = append(result.Valid, ValidRow{
			RowNo:  row.Index,
			Fields: fields,
			Raw:    copyCells(row.Cells),
		})
	}
	return result
}

func buildFields(stage domain.Stage, row domain.Row, values map[string]string, contracted map[string]bool) domain.RecordFields {
	fields := domain.RecordFields{
		Stage:     stage,
		LotNo:     values["lot_no_raw"],
		LotNoNorm: values["lot_no"],
		MachineNo: values["machine_no"],
		MoldNo:    values["mold_no"],
		Extra:     map[string]string{},
	}
	fields.ProductionDate, _ = time.Parse(dateLayout, values["production_date"])

	switch stage {
	case domain.StageP1:
		fields.P1 = &domain.P1Fields{
			Quantity: atoiOrZero(values["quantity"]),
			Operator: values["operator"],
		}
	case domain.StageP2:
		fields.P2 = &domain.P2Fields{
			WinderNo:  unitNumber(values["winder_no"], fields.LotNoNorm),
			Spec:      values["spec"],
			TapeLotNo: values["tape_lot_no"],
			Quantity:  atoiOrZero(values["quantity"]),
		}
	case domain.StageP3:
		fields.P3 = &domain.P3Fields{
			UnitNo:   unitNumber(values["unit_no"], fields.LotNoNorm),
			Spec:     values["spec"],
			SubLotNo: values["sub_lot_no"],
			Quantity: atoiOrZero(values["quantity"]),
		}
	}

	for name, raw := range row.Cells {
		if contracted[name] {
			continue
		}
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			fields.Extra[name] = trimmed
		}
	}

	return fields
}

// unitNumber prefers the explicit winder/unit column and falls back to the
// number encoded in the last two digits of the normalized lot.
func unitNumber(explicit, lotNorm string) int {
	if explicit != "" {
		return atoiOrZero(explicit)
	}
	if n, ok := normalize.WinderNo(lotNorm); ok {
		return n
	}
	return 0
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func truncate(s string) string {
	if len(s) <= 24 {
		return s
	}
	return s[:24] + "..."
}

func copyCells(cells map[string]string) map[string]string {
	out := make(map[string]string, len(cells))
	for k, v := range cells {
		out[k] = v
	}
	return out
}
