package dto

import (
	"bioai-workspace-be/internal/entity"
)

type SyncStatusResponse struct {
	Queue          entity.SyncStatistics `json:"queue"`
	PendingUpdates int                   `json:"pending_updates"`
	Online         bool                  `json:"online"`
	Visible        bool                  `json:"visible"`
}

type RetryResponse struct {
	Requeued int `json:"requeued"`
}

type ConnectivityRequest struct {
	Online  *bool `json:"online"`
	Visible *bool `json:"visible"`
}
