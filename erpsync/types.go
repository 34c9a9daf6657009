package erpsync

import (
	"encoding/json"
	"strings"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
)

// SyncParams is the single entry-point input: what to run and how.
type SyncParams struct {
	Mode        string `json:"mode"`
	Incremental bool   `json:"incremental"`
	DryRun      bool   `json:"dryRun"`
	TriggeredBy string `json:"triggeredBy"`
}

// NormalizeMode maps free-form input onto the three supported modes.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case models.SyncModeIngestOnly, "ingest-only", "ingestion":
		return models.SyncModeIngestOnly
	case models.SyncModeResolveOnly, "resolve-only":
		return models.SyncModeResolveOnly
	default:
		return models.SyncModeFull
	}
}

// StageStats aggregates per-record outcomes for one stage.
type StageStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s *StageStats) add(other StageStats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

func (s StageStats) total() int {
	return s.Created + s.Updated + s.Skipped
}

// RunResult is the aggregated outcome returned to the caller.
type RunResult struct {
	RunId         int                   `json:"runId"`
	Status        string                `json:"status"`
	Stage         string                `json:"stage"`
	RecordsSynced int                   `json:"recordsSynced"`
	ErrorCount    int                   `json:"errorCount"`
	DurationMs    int64                 `json:"durationMs"`
	Stats         map[string]StageStats `json:"stats"`
	Errors        []string              `json:"errors"`
}

// WatermarkState stores the incremental "modified after" cutoff per entity
// type, persisted as JSON on the connection row.
type WatermarkState struct {
	Agents    string `json:"agents"`
	Customers string `json:"customers"`
	Projects  string `json:"projects"`
	Units     string `json:"units"`
	Sales     string `json:"sales"`
}

func DecodeWatermarkState(raw []byte) WatermarkState {
	if len(raw) == 0 {
		return WatermarkState{}
	}
	var state WatermarkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return WatermarkState{}
	}
	return state
}

func EncodeWatermarkState(state WatermarkState) []byte {
	b, _ := json.Marshal(state)
	return b
}

func (w WatermarkState) forEntity(entityType string) string {
	switch entityType {
	case models.EntityTypeAgent:
		return w.Agents
	case models.EntityTypeCustomer:
		return w.Customers
	case models.EntityTypeProject:
		return w.Projects
	case models.EntityTypeUnit:
		return w.Units
	case models.EntityTypeSale:
		return w.Sales
	}
	return ""
}

func (w *WatermarkState) setAll(cutoff string) {
	w.Agents = cutoff
	w.Customers = cutoff
	w.Projects = cutoff
	w.Units = cutoff
	w.Sales = cutoff
}

// HTTP surface DTOs.

type TriggerSyncRequest struct {
	Mode        string `json:"mode"`
	Incremental bool   `json:"incremental"`
	DryRun      bool   `json:"dryRun"`
}

type StatusResponse struct {
	Connected         bool    `json:"connected"`
	BaseURL           string  `json:"baseUrl"`
	LastSyncAt        *string `json:"lastSyncAt"`
	LastSuccessSyncAt *string `json:"lastSuccessSyncAt"`
}

type SyncRunResponse struct {
	ID            int     `json:"id"`
	Status        string  `json:"status"`
	Stage         string  `json:"stage"`
	Mode          string  `json:"mode"`
	DryRun        bool    `json:"dryRun"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         int    `json:"id"`
	Stage      string `json:"stage"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

// Pub/Sub trigger envelope.

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	Params SyncParams `json:"params"`
}
