package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/storage"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/utils"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportFile struct {
	Name string
	Data []byte
	// Locations lists where the file was stored, local path first.
	Locations []string
}

type ReportConfig struct {
	OutputDir string
}

type ReportService interface {
	Collect(ctx context.Context, window time.Duration) (*utils.ChangeReport, error)
	Render(ctx context.Context, window time.Duration) (*ReportFile, error)
	Publish(ctx context.Context, window time.Duration) (*ReportFile, error)
}

type reportService struct {
	historyRepo repository.ChangeHistoryRepository
	detector    ChangeDetector
	places      PlacesService
	uploader    storage.Uploader
	config      ReportConfig
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewReportService builds the change report pipeline. uploader may be nil,
// in which case Publish only writes to OutputDir.
func NewReportService(
	historyRepo repository.ChangeHistoryRepository,
	detector ChangeDetector,
	places PlacesService,
	uploader storage.Uploader,
	config ReportConfig,
	logger *zap.SugaredLogger,
) ReportService {
	return &reportService{
		historyRepo: historyRepo,
		detector:    detector,
		places:      places,
		uploader:    uploader,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *reportService) Collect(ctx context.Context, window time.Duration) (*utils.ChangeReport, error) {
	now := s.now()
	since := now.Add(-window)

	changes, err := s.historyRepo.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load change history: %w", err)
	}
	costs, err := s.places.CostSince(ctx, since)
	if err != nil {
		return nil, err
	}
	stats, err := s.detector.PendingVerificationStats(ctx)
	if err != nil {
		return nil, err
	}

	return &utils.ChangeReport{
		GeneratedAt: now,
		Since:       since,
		Changes:     changes,
		Costs:       costs.Breakdown,
		Pending:     stats.Total,
		Critical:    stats.Critical,
	}, nil
}

func (s *reportService) Render(ctx context.Context, window time.Duration) (*ReportFile, error) {
	report, err := s.Collect(ctx, window)
	if err != nil {
		return nil, err
	}
	buf, err := utils.BuildChangeReport(*report)
	if err != nil {
		return nil, fmt.Errorf("render change report: %w", err)
	}
	return &ReportFile{
		Name: fmt.Sprintf("changes-%s.xlsx", report.GeneratedAt.UTC().Format("20060102-150405")),
		Data: buf.Bytes(),
	}, nil
}

// Publish renders the report and stores it locally and, if configured, in S3.
// An upload failure is returned after the local copy has been written.
func (s *reportService) Publish(ctx context.Context, window time.Duration) (*ReportFile, error) {
	file, err := s.Render(ctx, window)
	if err != nil {
		return nil, err
	}

	if s.config.OutputDir != "" {
		if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create report dir: %w", err)
		}
		path := filepath.Join(s.config.OutputDir, file.Name)
		if err := os.WriteFile(path, file.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
		file.Locations = append(file.Locations, path)
	}

	if s.uploader != nil {
		loc, err := s.uploader.Upload(ctx, file.Name, XLSXContentType, file.Data)
		if err != nil {
			return file, err
		}
		file.Locations = append(file.Locations, loc)
	}

	s.logger.Infow("change report published", "name", file.Name, "bytes", len(file.Data), "locations", file.Locations)
	return file, nil
}
