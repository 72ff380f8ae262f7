// Package predictor provides client functionality for interacting with the
// remote roulette prediction service.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/croupier/internal/domain"
)

// Client for the prediction service HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new prediction service client
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "predictor").Logger(),
	}
}

// NewClientWithHTTPClient creates a client with a provided http.Client (for testing)
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("client", "predictor").Logger(),
	}
}

// startSessionRequest is the request for opening a session
type startSessionRequest struct {
	Checkpoint  string `json:"checkpoint"`
	DatasetID   int64  `json:"dataset_id"`
	GameCapital int    `json:"game_capital"`
	GameBet     int    `json:"game_bet"`
}

// StartSession opens a remote inference session and returns the initial
// prediction and capital baseline.
func (c *Client) StartSession(ctx context.Context, checkpoint string, datasetID int64, gameCapital, gameBet int) (*domain.StartResult, error) {
	c.log.Debug().
		Str("checkpoint", checkpoint).
		Int64("dataset_id", datasetID).
		Int("game_capital", gameCapital).
		Int("game_bet", gameBet).
		Msg("StartSession: calling prediction service")

	var result domain.StartResult
	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/start", startSessionRequest{
		Checkpoint:  checkpoint,
		DatasetID:   datasetID,
		GameCapital: gameCapital,
		GameBet:     gameBet,
	}, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("StartSession: request failed")
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	return &result, nil
}

// nextResponse is the response for NextPrediction
type nextResponse struct {
	SessionID  string            `json:"session_id"`
	Prediction domain.Prediction `json:"prediction"`
}

// NextPrediction asks the backend to recompute the prediction for the
// upcoming spin without submitting an outcome.
func (c *Client) NextPrediction(ctx context.Context, sessionID string) (*domain.Prediction, error) {
	c.log.Debug().Str("session_id", sessionID).Msg("NextPrediction: calling prediction service")

	var result nextResponse
	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/"+url.PathEscape(sessionID)+"/next", nil, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("NextPrediction: request failed")
		return nil, fmt.Errorf("failed to get next prediction: %w", err)
	}

	return &result.Prediction, nil
}

// stepRequest is the request for submitting an observed extraction
type stepRequest struct {
	Extraction int `json:"extraction"`
}

// SubmitStep submits an observed wheel number and returns the resulting
// reward, capital and the next prediction.
func (c *Client) SubmitStep(ctx context.Context, sessionID string, extraction int) (*domain.StepResult, error) {
	c.log.Debug().
		Str("session_id", sessionID).
		Int("extraction", extraction).
		Msg("SubmitStep: calling prediction service")

	var result domain.StepResult
	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/"+url.PathEscape(sessionID)+"/step", stepRequest{Extraction: extraction}, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("SubmitStep: request failed")
		return nil, fmt.Errorf("failed to submit step: %w", err)
	}

	return &result, nil
}

// betRequest is the request for changing the bet amount
type betRequest struct {
	BetAmount int `json:"bet_amount"`
}

// UpdateBet changes the per-spin bet amount of an active session.
func (c *Client) UpdateBet(ctx context.Context, sessionID string, betAmount int) error {
	c.log.Debug().
		Str("session_id", sessionID).
		Int("bet_amount", betAmount).
		Msg("UpdateBet: calling prediction service")

	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/"+url.PathEscape(sessionID)+"/bet", betRequest{BetAmount: betAmount}, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("UpdateBet: request failed")
		return fmt.Errorf("failed to update bet: %w", err)
	}
	return nil
}

// ClearRows discards the session's persisted rows on the backend.
// The backend treats this as idempotent.
func (c *Client) ClearRows(ctx context.Context, sessionID string) error {
	c.log.Debug().Str("session_id", sessionID).Msg("ClearRows: calling prediction service")

	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/"+url.PathEscape(sessionID)+"/rows/clear", nil, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("ClearRows: request failed")
		return fmt.Errorf("failed to clear rows: %w", err)
	}
	return nil
}

// ShutdownSession closes a remote session. Shutting down a session the
// backend no longer knows about succeeds (idempotent).
func (c *Client) ShutdownSession(ctx context.Context, sessionID string) error {
	c.log.Debug().Str("session_id", sessionID).Msg("ShutdownSession: calling prediction service")

	err := c.doJSON(ctx, http.MethodPost, "/inference/sessions/"+url.PathEscape(sessionID)+"/shutdown", nil, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("ShutdownSession: request failed")
		return fmt.Errorf("failed to shutdown session: %w", err)
	}
	return nil
}

// ClearContext removes the uploaded inference context dataset on the backend.
func (c *Client) ClearContext(ctx context.Context) error {
	c.log.Debug().Msg("ClearContext: calling prediction service")

	err := c.doJSON(ctx, http.MethodPost, "/inference/context/clear", nil, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("ClearContext: request failed")
		return fmt.Errorf("failed to clear inference context: %w", err)
	}
	return nil
}

// ListCheckpoints returns the names of available model checkpoints.
func (c *Client) ListCheckpoints(ctx context.Context) ([]string, error) {
	c.log.Debug().Msg("ListCheckpoints: calling prediction service")

	var checkpoints []string
	err := c.doJSON(ctx, http.MethodGet, "/training/checkpoints", nil, &checkpoints)
	if err != nil {
		c.log.Error().Err(err).Msg("ListCheckpoints: request failed")
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return checkpoints, nil
}

// DeleteCheckpoint removes a checkpoint on the backend.
func (c *Client) DeleteCheckpoint(ctx context.Context, name string) error {
	c.log.Debug().Str("checkpoint", name).Msg("DeleteCheckpoint: calling prediction service")

	err := c.doJSON(ctx, http.MethodDelete, "/training/checkpoints/"+url.PathEscape(name), nil, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("DeleteCheckpoint: request failed")
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// datasetsResponse is the response envelope for dataset listings
type datasetsResponse struct {
	Datasets []domain.DatasetInfo `json:"datasets"`
}

// ListDatasets returns the uploaded roulette series datasets.
func (c *Client) ListDatasets(ctx context.Context) ([]domain.DatasetInfo, error) {
	c.log.Debug().Msg("ListDatasets: calling prediction service")

	var result datasetsResponse
	err := c.doJSON(ctx, http.MethodGet, "/database/roulette-series/datasets", nil, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("ListDatasets: request failed")
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return result.Datasets, nil
}

// ListDatasetSummaries returns datasets with their row counts.
func (c *Client) ListDatasetSummaries(ctx context.Context) ([]domain.DatasetInfo, error) {
	c.log.Debug().Msg("ListDatasetSummaries: calling prediction service")

	var result datasetsResponse
	err := c.doJSON(ctx, http.MethodGet, "/database/roulette-series/datasets/summary", nil, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("ListDatasetSummaries: request failed")
		return nil, fmt.Errorf("failed to list dataset summaries: %w", err)
	}
	return result.Datasets, nil
}

// DeleteDataset removes an uploaded dataset and its rows on the backend.
func (c *Client) DeleteDataset(ctx context.Context, name string) error {
	c.log.Debug().Str("dataset", name).Msg("DeleteDataset: calling prediction service")

	err := c.doJSON(ctx, http.MethodDelete, "/database/roulette-series/datasets/"+url.PathEscape(name), nil, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("DeleteDataset: request failed")
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return nil
}

// UploadDataset uploads a tabular file for import into the given backend
// table ("roulette_series" or "inference_context").
func (c *Client) UploadDataset(ctx context.Context, table, filename, csvSeparator string, file io.Reader) (*domain.UploadResult, error) {
	c.log.Debug().
		Str("table", table).
		Str("filename", filename).
		Msg("UploadDataset: calling prediction service")

	query := url.Values{}
	query.Set("table", table)
	if csvSeparator != "" {
		query.Set("csv_separator", csvSeparator)
	}

	var result domain.UploadResult
	err := c.doMultipart(ctx, "/data/upload", query, "file", filename, file, &result)
	if err != nil {
		c.log.Error().Err(err).Msg("UploadDataset: request failed")
		return nil, fmt.Errorf("failed to upload dataset: %w", err)
	}
	return &result, nil
}

// tableListEntry is one row of the /database/tables listing
type tableListEntry struct {
	Name        string `json:"name"`
	VerboseName string `json:"verbose_name"`
}

// ListTables returns the backend's browsable tables.
func (c *Client) ListTables(ctx context.Context) ([]domain.TableStats, error) {
	c.log.Debug().Msg("ListTables: calling prediction service")

	var entries []tableListEntry
	err := c.doJSON(ctx, http.MethodGet, "/database/tables", nil, &entries)
	if err != nil {
		c.log.Error().Err(err).Msg("ListTables: request failed")
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]domain.TableStats, 0, len(entries))
	for _, e := range entries {
		tables = append(tables, domain.TableStats{TableName: e.Name, VerboseName: e.VerboseName})
	}
	return tables, nil
}

// GetTableData returns one page of rows from a backend table.
func (c *Client) GetTableData(ctx context.Context, tableName string, offset int) (*domain.TablePage, error) {
	c.log.Debug().Str("table", tableName).Int("offset", offset).Msg("GetTableData: calling prediction service")

	path := fmt.Sprintf("/database/tables/%s?offset=%d", url.PathEscape(tableName), offset)
	var page domain.TablePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		c.log.Error().Err(err).Msg("GetTableData: request failed")
		return nil, fmt.Errorf("failed to get table data: %w", err)
	}
	return &page, nil
}

// GetTableStats returns row/column counts for a backend table.
func (c *Client) GetTableStats(ctx context.Context, tableName string) (*domain.TableStats, error) {
	c.log.Debug().Str("table", tableName).Msg("GetTableStats: calling prediction service")

	var stats domain.TableStats
	err := c.doJSON(ctx, http.MethodGet, "/database/tables/"+url.PathEscape(tableName)+"/stats", nil, &stats)
	if err != nil {
		c.log.Error().Err(err).Msg("GetTableStats: request failed")
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	return &stats, nil
}

// IsReachable checks whether the prediction service answers at all.
// Uses the checkpoint listing as the probe; any HTTP response counts as
// reachable, transport errors do not.
func (c *Client) IsReachable(ctx context.Context) bool {
	var checkpoints []string
	err := c.doJSON(ctx, http.MethodGet, "/training/checkpoints", nil, &checkpoints)
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// The service answered, even if unhappily.
		return true
	}
	c.log.Debug().Err(err).Msg("IsReachable: prediction service not responding")
	return false
}
