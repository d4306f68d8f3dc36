package service

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const dashboardListLimit = 5

// DashboardData consolidates all metrics for the recruiter dashboard.
type DashboardData struct {
	SessionStatusCounts map[model.SessionStatus]int          `json:"session_status_counts"`
	Results             repository.DashboardResultStats      `json:"results"`
	FlaggedSessions     []repository.DashboardFlaggedSession `json:"flagged_sessions"`
	RecentResults       []repository.DashboardRecentResult   `json:"recent_results"`
}

// DashboardService handles recruiter dashboard business logic.
type DashboardService struct {
	repo *repository.DashboardRepository
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo *repository.DashboardRepository) *DashboardService {
	return &DashboardService{repo: repo}
}

// GetDashboardData fetches all dashboard metrics sequentially.
func (s *DashboardService) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	statusCounts, err := s.repo.GetSessionStatusCounts(ctx)
	if err != nil {
		return nil, err
	}

	results, err := s.repo.GetResultStats(ctx)
	if err != nil {
		return nil, err
	}

	flagged, err := s.repo.GetFlaggedSessions(ctx, dashboardListLimit)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.GetRecentResults(ctx, dashboardListLimit)
	if err != nil {
		return nil, err
	}

	return &DashboardData{
		SessionStatusCounts: statusCounts,
		Results:             results,
		FlaggedSessions:     flagged,
		RecentResults:       recent,
	}, nil
}
