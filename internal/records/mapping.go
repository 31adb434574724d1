package records

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/model"
	"wayleave/internal/util"
)

const (
	colID                 = "id"
	colCreatedAt          = "created_at"
	colOwnerUserID        = "owner_user_id"
	colWayleaveNumber     = "wayleave_number"
	colUSPNumber          = "usp_number"
	colRCCNumber          = "rcc_number"
	colMSPNumber          = "msp_number"
	colStatus             = "status"
	colToEddDate          = "to_edd_date"
	colToMowDate          = "to_mow_date"
	colFromMowDate        = "from_mow_date"
	colToAreaEngineerDate = "to_area_engineer_date"
	colAttachments        = "attachments"
	colRemarks            = "remarks"
	colLastUpdatedBy      = "last_updated_by"
)

// fieldColumns is the single translation table between the caller's field
// names and the store's column names.
var fieldColumns = [][2]string{
	{"id", colID},
	{"createdAt", colCreatedAt},
	{"ownerUserId", colOwnerUserID},
	{"wayleaveNumber", colWayleaveNumber},
	{"uspNumber", colUSPNumber},
	{"rccNumber", colRCCNumber},
	{"mspNumber", colMSPNumber},
	{"status", colStatus},
	{"toEddDate", colToEddDate},
	{"toMowDate", colToMowDate},
	{"fromMowDate", colFromMowDate},
	{"toAreaEngineerDate", colToAreaEngineerDate},
	{"attachments", colAttachments},
	{"remarks", colRemarks},
	{"lastUpdatedBy", colLastUpdatedBy},
}

// ColumnFor translates a record field name into its column name.
func ColumnFor(field string) (string, bool) {
	for _, fc := range fieldColumns {
		if fc[0] == field {
			return fc[1], true
		}
	}
	return "", false
}

// FieldFor translates a column name into its record field name.
func FieldFor(column string) (string, bool) {
	for _, fc := range fieldColumns {
		if fc[1] == column {
			return fc[0], true
		}
	}
	return "", false
}

// ToRow encodes r for the store. A zero CreatedAt is left out so the store
// assigns it.
func ToRow(r model.Record) backend.Row {
	attachments := r.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	row := backend.Row{
		colID:                 r.ID,
		colOwnerUserID:        r.OwnerUserID,
		colWayleaveNumber:     r.WayleaveNumber,
		colUSPNumber:          r.USPNumber,
		colRCCNumber:          r.RCCNumber,
		colMSPNumber:          r.MSPNumber,
		colStatus:             string(r.Status),
		colToEddDate:          r.ToEddDate.OrNil(),
		colToMowDate:          r.ToMowDate.OrNil(),
		colFromMowDate:        r.FromMowDate.OrNil(),
		colToAreaEngineerDate: r.ToAreaEngineerDate.OrNil(),
		colAttachments:        attachments,
		colRemarks:            r.Remarks,
		colLastUpdatedBy:      r.LastUpdatedBy,
	}
	if !r.CreatedAt.IsZero() {
		row[colCreatedAt] = r.CreatedAt
	}
	return row
}

// toPatch is ToRow without the columns an update must never touch.
func toPatch(r model.Record) backend.Row {
	row := ToRow(r)
	delete(row, colID)
	delete(row, colCreatedAt)
	delete(row, colOwnerUserID)
	return row
}

// userColumns are the columns a user edits directly. The rest are stamped by
// the repository or the store.
var userColumns = []string{
	colWayleaveNumber, colUSPNumber, colRCCNumber, colMSPNumber,
	colStatus, colAttachments, colRemarks,
}

// ChangedFields lists, by field name, the user-editable fields that differ
// between before and after.
func ChangedFields(before, after model.Record) []string {
	b, a := ToRow(before), ToRow(after)
	var changed []string
	for _, col := range userColumns {
		if !reflect.DeepEqual(b[col], a[col]) {
			field, _ := FieldFor(col)
			changed = append(changed, field)
		}
	}
	return changed
}

// FromRow decodes a store row into a record.
func FromRow(row backend.Row) (model.Record, error) {
	var (
		r   model.Record
		err error
	)

	r.ID = asString(row[colID])
	if r.ID == "" {
		return r, fmt.Errorf("row has no %s", colID)
	}
	r.OwnerUserID = asString(row[colOwnerUserID])
	r.WayleaveNumber = asString(row[colWayleaveNumber])
	r.USPNumber = asString(row[colUSPNumber])
	r.RCCNumber = asString(row[colRCCNumber])
	r.MSPNumber = asString(row[colMSPNumber])
	r.Status = model.Status(asString(row[colStatus]))
	r.Remarks = asString(row[colRemarks])
	r.LastUpdatedBy = asString(row[colLastUpdatedBy])

	created, err := asTime(row[colCreatedAt])
	if err != nil {
		return r, fmt.Errorf("failed to decode %s: %w", colCreatedAt, err)
	}
	r.CreatedAt = created.UnwrapOr(time.Time{})

	for col, dst := range map[string]*util.Optional[time.Time]{
		colToEddDate:          &r.ToEddDate,
		colToMowDate:          &r.ToMowDate,
		colFromMowDate:        &r.FromMowDate,
		colToAreaEngineerDate: &r.ToAreaEngineerDate,
	} {
		if *dst, err = asTime(row[col]); err != nil {
			return r, fmt.Errorf("failed to decode %s: %w", col, err)
		}
	}

	if r.Attachments, err = asStrings(row[colAttachments]); err != nil {
		return r, fmt.Errorf("failed to decode %s: %w", colAttachments, err)
	}

	return r, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asTime(v any) (util.Optional[time.Time], error) {
	switch t := v.(type) {
	case nil:
		return util.None[time.Time](), nil
	case time.Time:
		return util.Some(t.UTC()), nil
	case *time.Time:
		if t == nil {
			return util.None[time.Time](), nil
		}
		return util.Some(t.UTC()), nil
	case util.Optional[time.Time]:
		return t, nil
	case string:
		if t == "" {
			return util.None[time.Time](), nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return util.None[time.Time](), err
		}
		return util.Some(parsed.UTC()), nil
	default:
		return util.None[time.Time](), fmt.Errorf("unsupported time value %T", v)
	}
}

func asStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, asString(item))
		}
		return out, nil
	case string:
		// JSON-encoded arrays arrive as text from some stores.
		if t == "" {
			return []string{}, nil
		}
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported attachments value %T", v)
	}
}

// EditableFields lists the field names a user may edit, in form order.
func EditableFields() []string {
	fields := make([]string, 0, len(userColumns))
	for _, col := range userColumns {
		field, _ := FieldFor(col)
		fields = append(fields, field)
	}
	return fields
}
