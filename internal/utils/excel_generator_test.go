package utils

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

func sampleReport() ChangeReport {
	detected := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	oldStatus, newStatus := "OPERATIONAL", "CLOSED_PERMANENTLY"
	newHours := `["Mon: 10-22"]`
	return ChangeReport{
		GeneratedAt: detected.Add(time.Hour),
		Since:       detected.Add(-24 * time.Hour),
		Changes: []models.ChangeHistory{
			{EntityType: models.EntityRestaurant, EntityID: "r-1", EntityName: "Tim Ho Wan", FieldName: "is_permanently_closed",
				OldValue: &oldStatus, NewValue: &newStatus, ChangeType: models.ChangeClosure, Source: "google_places", Confidence: 0.9, DetectedAt: detected},
			{EntityType: models.EntityRestaurant, EntityID: "r-2", FieldName: "opening_hours",
				NewValue: &newHours, ChangeType: models.ChangeHours, Source: "google_places", Confidence: 0.9, Verified: true, DetectedAt: detected},
		},
		Costs: []models.CostBreakdown{
			{APIName: "google_places", Operation: models.OperationTextSearch, Calls: 10, Failures: 1, Cost: 0.32},
			{APIName: "google_places", Operation: models.OperationPlacePhoto, Calls: 4, Cost: 0.028},
		},
		Pending:  3,
		Critical: 1,
	}
}

func TestBuildChangeReport(t *testing.T) {
	buf, err := BuildChangeReport(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Changes", "Costs", "Info"}, f.GetSheetList())

	rows, err := f.GetRows(changesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Detected At", rows[0][0])
	assert.Equal(t, "Tim Ho Wan", rows[1][2])
	assert.Equal(t, "closure", rows[1][6])
	assert.Equal(t, "r-2", rows[2][2], "falls back to the entity id")
	assert.Equal(t, "", rows[2][4])

	costs, err := f.GetRows(costsSheet)
	require.NoError(t, err)
	require.Len(t, costs, 4)
	assert.Equal(t, "text_search", costs[1][1])
	assert.Equal(t, "Total", costs[3][0])

	closures, err := f.GetCellValue(infoSheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "1", closures)
	total, err := f.GetCellValue(infoSheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "0.3480", total)
}

func TestBuildChangeReport_Empty(t *testing.T) {
	buf, err := BuildChangeReport(ChangeReport{GeneratedAt: time.Now()})
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(changesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSaveChangeReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.xlsx")

	require.NoError(t, SaveChangeReport(path, sampleReport()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, changesSheet, f.GetSheetName(f.GetActiveSheetIndex()))
}
