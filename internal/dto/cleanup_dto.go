package dto

import "bioai-workspace-be/pkg/retention"

type CleanupRequest struct {
	OlderThanDays       int   `json:"older_than_days" validate:"min=0,max=3650"`
	PreserveActive      *bool `json:"preserve_active"`
	PreserveRecent      *bool `json:"preserve_recent"`
	RemoveEmptySessions bool  `json:"remove_empty_sessions"`
	MaxSessionsToKeep   int   `json:"max_sessions_to_keep" validate:"min=0"`
	DryRun              bool  `json:"dry_run"`
}

func (r CleanupRequest) Options() retention.CleanupOptions {
	return retention.CleanupOptions{
		OlderThanDays:       r.OlderThanDays,
		PreserveActive:      r.PreserveActive,
		PreserveRecent:      r.PreserveRecent,
		RemoveEmptySessions: r.RemoveEmptySessions,
		MaxSessionsToKeep:   r.MaxSessionsToKeep,
		DryRun:              r.DryRun,
	}
}
