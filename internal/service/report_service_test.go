package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/mocks"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/storage"
)

func newReportFixture(t *testing.T, uploader *mocks.Uploader, outputDir string) (*placesFixture, *detectorFixture, *reportService) {
	t.Helper()
	pf := newPlacesFixture()
	df := newDetectorFixture()

	var up storage.Uploader
	if uploader != nil {
		up = uploader
	}
	svc := NewReportService(df.history, df.detector, pf.service, up, ReportConfig{OutputDir: outputDir}, zap.NewNop().Sugar()).(*reportService)
	svc.now = func() time.Time { return fixedNow }
	return pf, df, svc
}

func seedReportData(t *testing.T, pf *placesFixture, df *detectorFixture) {
	t.Helper()
	ctx := context.Background()
	closed := "true"
	require.NoError(t, df.history.Create(ctx, &models.ChangeHistory{
		EntityType: models.EntityRestaurant, EntityID: "r-1", FieldName: "is_permanently_closed",
		NewValue: &closed, ChangeType: models.ChangeClosure, Source: "google_places", Confidence: 0.9,
		DetectedAt: fixedNow.Add(-time.Hour),
	}))
	require.NoError(t, df.history.Create(ctx, &models.ChangeHistory{
		EntityType: models.EntityRestaurant, EntityID: "r-2", FieldName: "phone",
		ChangeType: models.ChangePhone, Source: "google_places", Confidence: 0.9,
		DetectedAt: fixedNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, df.queue.Create(ctx, &models.VerificationQueueItem{Priority: 1}))
	require.NoError(t, pf.usage.Create(ctx, &models.APIUsageLog{
		APIName: PlacesAPIName, Operation: models.OperationTextSearch, Success: true,
		Cost: OperationCosts[models.OperationTextSearch], CreatedAt: fixedNow.Add(-time.Minute),
	}))
}

func TestReportService_Collect(t *testing.T) {
	pf, df, svc := newReportFixture(t, nil, "")
	seedReportData(t, pf, df)

	report, err := svc.Collect(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, "r-1", report.Changes[0].EntityID)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Critical)
	assert.InDelta(t, 0.032, report.TotalCost(), 1e-9)
	assert.Equal(t, fixedNow.Add(-24*time.Hour), report.Since)
}

func TestReportService_Collect_HistoryError(t *testing.T) {
	_, df, svc := newReportFixture(t, nil, "")
	df.history.ListErr = errors.New("db gone")

	_, err := svc.Collect(context.Background(), time.Hour)

	assert.ErrorContains(t, err, "load change history")
}

func TestReportService_Render(t *testing.T) {
	pf, df, svc := newReportFixture(t, nil, "")
	seedReportData(t, pf, df)

	file, err := svc.Render(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, "changes-20260310-120000.xlsx", file.Name)

	wb, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Changes")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReportService_Publish(t *testing.T) {
	dir := t.TempDir()
	uploader := mocks.NewUploader()
	pf, df, svc := newReportFixture(t, uploader, dir)
	seedReportData(t, pf, df)

	file, err := svc.Publish(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	localPath := filepath.Join(dir, file.Name)
	assert.Equal(t, []string{localPath, "mem://" + file.Name}, file.Locations)

	onDisk, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, file.Data, onDisk)
	assert.Equal(t, file.Data, uploader.Objects[file.Name])
}

func TestReportService_Publish_UploadFailureKeepsLocalCopy(t *testing.T) {
	dir := t.TempDir()
	uploader := mocks.NewUploader()
	uploader.Err = errors.New("AccessDenied")
	_, _, svc := newReportFixture(t, uploader, dir)

	file, err := svc.Publish(context.Background(), time.Hour)

	assert.ErrorContains(t, err, "AccessDenied")
	require.NotNil(t, file)
	require.Len(t, file.Locations, 1)
	_, statErr := os.Stat(file.Locations[0])
	assert.NoError(t, statErr)
}
