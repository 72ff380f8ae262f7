package domain

import (
	"context"
	"io"
)

// StartResult is the backend's response to opening a session.
type StartResult struct {
	SessionID      string     `json:"session_id"`
	Checkpoint     string     `json:"checkpoint"`
	GameCapital    int        `json:"game_capital"`
	GameBet        int        `json:"game_bet"`
	CurrentCapital int        `json:"current_capital"`
	Prediction     Prediction `json:"prediction"`
}

// StepResult is the backend's response to submitting an observed extraction.
type StepResult struct {
	SessionID       string     `json:"session_id"`
	Step            int        `json:"step"`
	RealExtraction  int        `json:"real_extraction"`
	PredictedAction int        `json:"predicted_action"`
	PredictedDesc   string     `json:"predicted_action_desc"`
	Reward          int        `json:"reward"`
	CapitalAfter    int        `json:"capital_after"`
	NextPrediction  Prediction `json:"next_prediction"`
}

// PredictorClient defines all operations against the remote prediction
// service. The concrete implementation lives in internal/clients/predictor;
// session and catalog services depend on this interface so they can be
// tested against a fake backend.
type PredictorClient interface {
	// Session lifecycle
	StartSession(ctx context.Context, checkpoint string, datasetID int64, gameCapital, gameBet int) (*StartResult, error)
	NextPrediction(ctx context.Context, sessionID string) (*Prediction, error)
	SubmitStep(ctx context.Context, sessionID string, extraction int) (*StepResult, error)
	UpdateBet(ctx context.Context, sessionID string, betAmount int) error
	ClearRows(ctx context.Context, sessionID string) error
	ShutdownSession(ctx context.Context, sessionID string) error
	ClearContext(ctx context.Context) error

	// Catalogs
	ListCheckpoints(ctx context.Context) ([]string, error)
	DeleteCheckpoint(ctx context.Context, name string) error
	ListDatasets(ctx context.Context) ([]DatasetInfo, error)
	ListDatasetSummaries(ctx context.Context) ([]DatasetInfo, error)
	DeleteDataset(ctx context.Context, name string) error
	UploadDataset(ctx context.Context, table, filename, csvSeparator string, file io.Reader) (*UploadResult, error)

	// Backend database browsing
	ListTables(ctx context.Context) ([]TableStats, error)
	GetTableData(ctx context.Context, tableName string, offset int) (*TablePage, error)
	GetTableStats(ctx context.Context, tableName string) (*TableStats, error)

	// Connection & health
	IsReachable(ctx context.Context) bool
}
