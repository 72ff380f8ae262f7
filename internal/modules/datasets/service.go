// Package datasets manages uploaded roulette series on the prediction
// service: uploads, listings and deletion, plus backend table browsing.
package datasets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
)

// The backend stores observed series in this table; uploads default to it.
const defaultTable = "roulette_series"

// Service proxies dataset operations to the prediction service.
type Service struct {
	client domain.PredictorClient
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates a new datasets service
func NewService(client domain.PredictorClient, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		client: client,
		bus:    bus,
		log:    log.With().Str("service", "datasets").Logger(),
	}
}

// List returns all known datasets with their row counts.
func (s *Service) List(ctx context.Context) ([]domain.DatasetInfo, error) {
	datasets, err := s.client.ListDatasetSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	if datasets == nil {
		datasets = []domain.DatasetInfo{}
	}
	return datasets, nil
}

// Upload streams a CSV file to the backend. An empty table name targets the
// roulette series table; an empty separator lets the backend sniff it.
func (s *Service) Upload(ctx context.Context, table, filename, csvSeparator string, file io.Reader) (*domain.UploadResult, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultTable
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	result, err := s.client.UploadDataset(ctx, table, filename, csvSeparator, file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload dataset: %w", err)
	}

	s.bus.Publish("datasets", &events.DatasetUploadedData{
		DatasetID:    result.DatasetID,
		Filename:     result.Filename,
		RowsImported: result.RowsImported,
	})
	s.log.Info().
		Str("filename", result.Filename).
		Int64("rows_imported", result.RowsImported).
		Int64("dataset_id", result.DatasetID).
		Msg("Dataset uploaded")

	return result, nil
}

// Delete removes a dataset by name.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.client.DeleteDataset(ctx, name); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}

	s.bus.Publish("datasets", &events.DatasetDeletedData{DatasetName: name})
	s.log.Info().Str("dataset", name).Msg("Dataset deleted")
	return nil
}

// ClearContext wipes the backend's inference context across all sessions.
func (s *Service) ClearContext(ctx context.Context) error {
	if err := s.client.ClearContext(ctx); err != nil {
		return fmt.Errorf("failed to clear inference context: %w", err)
	}
	s.log.Info().Msg("Inference context cleared")
	return nil
}

// ListTables returns the backend's database tables with row counts.
func (s *Service) ListTables(ctx context.Context) ([]domain.TableStats, error) {
	tables, err := s.client.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if tables == nil {
		tables = []domain.TableStats{}
	}
	return tables, nil
}

// GetTableData returns one page of rows from a backend table.
func (s *Service) GetTableData(ctx context.Context, tableName string, offset int) (*domain.TablePage, error) {
	if offset < 0 {
		offset = 0
	}
	page, err := s.client.GetTableData(ctx, tableName, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get table data: %w", err)
	}
	return page, nil
}

// GetTableStats returns row/column counts for one backend table.
func (s *Service) GetTableStats(ctx context.Context, tableName string) (*domain.TableStats, error) {
	stats, err := s.client.GetTableStats(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	return stats, nil
}
