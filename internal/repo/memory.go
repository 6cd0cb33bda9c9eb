package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/utils"
)

// MemoryStore is an in-process flag and snapshot store. It backs
// development deployments without Postgres and doubles as the test
// store. All operations are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	flags       map[uuid.UUID]models.RiskFlag
	analyses    map[string]models.RiskAnalysis        // employee|cycle
	assessments map[string]models.PotentialAssessment // employee|cycle
	reports     map[string]models.PopulationAnomalyReport
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:       make(map[uuid.UUID]models.RiskFlag),
		analyses:    make(map[string]models.RiskAnalysis),
		assessments: make(map[string]models.PotentialAssessment),
		reports:     make(map[string]models.PopulationAnomalyReport),
	}
}

func snapshotKey(employeeID, cycleID string) string {
	return employeeID + "|" + cycleID
}

// ActiveFlag returns the single ACTIVE flag for the tuple, or nil.
func (s *MemoryStore) ActiveFlag(_ context.Context, employeeID, cycleID string, typ models.FlagType) (*models.RiskFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, flag := range s.flags {
		if flag.EmployeeID == employeeID && flag.CycleID == cycleID &&
			flag.Type == typ && flag.Status == models.FlagActive {
			copied := flag
			return &copied, nil
		}
	}
	return nil, nil
}

// InsertFlag stores a new flag, rejecting a second ACTIVE flag for the
// same (employee, cycle, type) tuple.
func (s *MemoryStore) InsertFlag(_ context.Context, flag *models.RiskFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.flags {
		if existing.EmployeeID == flag.EmployeeID && existing.CycleID == flag.CycleID &&
			existing.Type == flag.Type && existing.Status == models.FlagActive {
			return utils.ErrConflict
		}
	}
	s.flags[flag.ID] = *flag
	return nil
}

// UpdateFlag replaces a flag, enforcing optimistic concurrency: the
// stored version must match the caller's version.
func (s *MemoryStore) UpdateFlag(_ context.Context, flag *models.RiskFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flags[flag.ID]
	if !ok {
		return fmt.Errorf("flag %s not found", flag.ID)
	}
	if existing.Version != flag.Version {
		return utils.ErrConflict
	}
	updated := *flag
	updated.Version++
	s.flags[flag.ID] = updated
	flag.Version = updated.Version
	return nil
}

// CountActiveFlags counts ACTIVE flags for one employee in one cycle.
func (s *MemoryStore) CountActiveFlags(_ context.Context, employeeID, cycleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, flag := range s.flags {
		if flag.EmployeeID == employeeID && flag.CycleID == cycleID && flag.Status == models.FlagActive {
			count++
		}
	}
	return count, nil
}

// GetFlag fetches one flag by id, or nil.
func (s *MemoryStore) GetFlag(_ context.Context, id uuid.UUID) (*models.RiskFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.flags[id]
	if !ok {
		return nil, nil
	}
	copied := flag
	return &copied, nil
}

// FlagsFor lists all flags for one employee in one cycle, active and
// resolved.
func (s *MemoryStore) FlagsFor(_ context.Context, employeeID, cycleID string) ([]models.RiskFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RiskFlag
	for _, flag := range s.flags {
		if flag.EmployeeID == employeeID && flag.CycleID == cycleID {
			out = append(out, flag)
		}
	}
	return out, nil
}

// SaveAnalysis replaces the per-(employee, cycle) analysis snapshot.
func (s *MemoryStore) SaveAnalysis(_ context.Context, analysis models.RiskAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[snapshotKey(analysis.EmployeeID, analysis.CycleID)] = analysis
	return nil
}

// GetAnalysis returns the stored snapshot, or nil.
func (s *MemoryStore) GetAnalysis(_ context.Context, employeeID, cycleID string) (*models.RiskAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	analysis, ok := s.analyses[snapshotKey(employeeID, cycleID)]
	if !ok {
		return nil, nil
	}
	return &analysis, nil
}

// SaveAssessment replaces the potential assessment snapshot.
func (s *MemoryStore) SaveAssessment(_ context.Context, assessment models.PotentialAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[snapshotKey(assessment.EmployeeID, assessment.CycleID)] = assessment
	return nil
}

// GetAssessment returns the stored assessment, or nil.
func (s *MemoryStore) GetAssessment(_ context.Context, employeeID, cycleID string) (*models.PotentialAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assessment, ok := s.assessments[snapshotKey(employeeID, cycleID)]
	if !ok {
		return nil, nil
	}
	return &assessment, nil
}

// SaveReport replaces the population report for the cycle.
func (s *MemoryStore) SaveReport(_ context.Context, report models.PopulationAnomalyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.CycleID] = report
	return nil
}

// LatestReport returns the stored population report, or nil.
func (s *MemoryStore) LatestReport(_ context.Context, cycleID string) (*models.PopulationAnomalyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[cycleID]
	if !ok {
		return nil, nil
	}
	return &report, nil
}

// Close satisfies the store interface; nothing to release.
func (s *MemoryStore) Close() {}
