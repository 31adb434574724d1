package records

import (
	"testing"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/model"
	"wayleave/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() model.Record {
	ts := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	return model.Record{
		ID:             "rec-1",
		CreatedAt:      ts,
		OwnerUserID:    "user-1",
		WayleaveNumber: "WL-2024-001",
		USPNumber:      "USP-101",
		RCCNumber:      "RCC-201",
		MSPNumber:      "MSP-301",
		Status:         model.StatusSentToMOW,
		ToEddDate:      util.Some(ts),
		ToMowDate:      util.Some(ts.Add(72 * time.Hour)),
		Attachments:    []string{"https://files/records/rec-1/a.pdf"},
		Remarks:        "Forwarded",
		LastUpdatedBy:  "Admin - 123456789",
	}
}

func TestRowRoundTrip(t *testing.T) {
	r := sampleRecord()

	got, err := FromRow(ToRow(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestRowRoundTripThroughText(t *testing.T) {
	// Stores that persist rows as JSON hand back timestamps and arrays as text
	// or generic slices.
	r := sampleRecord()
	row := ToRow(r)
	row[colCreatedAt] = r.CreatedAt.Format(time.RFC3339Nano)
	row[colToEddDate] = r.ToEddDate.Val.Format(time.RFC3339Nano)
	row[colToMowDate] = r.ToMowDate.Val.Format(time.RFC3339Nano)
	row[colAttachments] = []any{"https://files/records/rec-1/a.pdf"}

	got, err := FromRow(row)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestToRowLeavesZeroCreatedAtToStore(t *testing.T) {
	r := sampleRecord()
	r.CreatedAt = time.Time{}
	r.Attachments = nil

	row := ToRow(r)
	_, ok := row[colCreatedAt]
	assert.False(t, ok)
	assert.Equal(t, []string{}, row[colAttachments])
	assert.Nil(t, row[colFromMowDate])
}

func TestPatchOmitsImmutableColumns(t *testing.T) {
	patch := toPatch(sampleRecord())
	for _, col := range []string{colID, colCreatedAt, colOwnerUserID} {
		_, ok := patch[col]
		assert.False(t, ok, col)
	}
	assert.Equal(t, "WL-2024-001", patch[colWayleaveNumber])
}

func TestFromRowErrors(t *testing.T) {
	_, err := FromRow(backend.Row{})
	assert.Error(t, err)

	_, err = FromRow(backend.Row{colID: "x", colToMowDate: "yesterday"})
	assert.Error(t, err)

	_, err = FromRow(backend.Row{colID: "x", colAttachments: 42})
	assert.Error(t, err)
}

func TestFieldColumnTranslationIsBijective(t *testing.T) {
	seenColumns := map[string]bool{}
	for _, fc := range fieldColumns {
		col, ok := ColumnFor(fc[0])
		require.True(t, ok)
		field, ok := FieldFor(col)
		require.True(t, ok)
		assert.Equal(t, fc[0], field)
		assert.False(t, seenColumns[col], "duplicate column %s", col)
		seenColumns[col] = true
	}

	_, ok := ColumnFor("nope")
	assert.False(t, ok)
	_, ok = FieldFor("nope")
	assert.False(t, ok)

	// Every column written by ToRow has a field name.
	for col := range ToRow(sampleRecord()) {
		_, ok := FieldFor(col)
		assert.True(t, ok, col)
	}
}

func TestChangedFields(t *testing.T) {
	before := sampleRecord()

	assert.Empty(t, ChangedFields(before, before.Clone()))

	after := before.Clone()
	after.Remarks = "revised"
	after.Status = model.StatusReceivedFromMOW
	after.LastUpdatedBy = "someone else"
	after.FromMowDate = util.Some(time.Now())
	assert.Equal(t, []string{"status", "remarks"}, ChangedFields(before, after))

	after = before.Clone()
	after.Attachments = append(after.Attachments, "https://files/records/rec-1/new.pdf")
	assert.Equal(t, []string{"attachments"}, ChangedFields(before, after))

	empty := model.Record{ID: "x"}
	assert.Empty(t, ChangedFields(empty, model.Record{ID: "x", Attachments: []string{}}))
}
