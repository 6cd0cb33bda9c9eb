package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/utils"
)

const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS risk_flags (
	id UUID PRIMARY KEY,
	employee_id TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	flag_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	risk_score DOUBLE PRECISION NOT NULL,
	evidence JSONB NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ,
	resolved_by TEXT NOT NULL DEFAULT '',
	hr_notes TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS risk_flags_active_unique
	ON risk_flags (employee_id, cycle_id, flag_type)
	WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS risk_flags_employee_cycle
	ON risk_flags (employee_id, cycle_id);

CREATE TABLE IF NOT EXISTS risk_analyses (
	employee_id TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (employee_id, cycle_id)
);

CREATE TABLE IF NOT EXISTS potential_assessments (
	employee_id TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	assessed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (employee_id, cycle_id)
);

CREATE TABLE IF NOT EXISTS population_reports (
	cycle_id TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists flags and snapshots in Postgres via a pgx
// connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// ActiveFlag returns the ACTIVE flag for the tuple, or nil.
func (s *PostgresStore) ActiveFlag(ctx context.Context, employeeID, cycleID string, typ models.FlagType) (*models.RiskFlag, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, employee_id, cycle_id, flag_type, severity, risk_score,
		       evidence, confidence, status, detected_at, updated_at,
		       resolved_at, resolved_by, hr_notes, version
		FROM risk_flags
		WHERE employee_id = $1 AND cycle_id = $2 AND flag_type = $3 AND status = 'ACTIVE'`,
		employeeID, cycleID, string(typ))
	flag, err := scanFlag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active flag: %w", err)
	}
	return flag, nil
}

// InsertFlag stores a new flag. A concurrent insert of the same ACTIVE
// tuple surfaces as utils.ErrConflict via the partial unique index.
func (s *PostgresStore) InsertFlag(ctx context.Context, flag *models.RiskFlag) error {
	evidence, err := json.Marshal(flag.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_flags (id, employee_id, cycle_id, flag_type, severity,
			risk_score, evidence, confidence, status, detected_at, updated_at,
			resolved_at, resolved_by, hr_notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		flag.ID, flag.EmployeeID, flag.CycleID, string(flag.Type), string(flag.Severity),
		flag.RiskScore, evidence, flag.Confidence, string(flag.Status),
		flag.DetectedAt, flag.UpdatedAt, flag.ResolvedAt, flag.ResolvedBy,
		flag.HRNotes, flag.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return utils.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

// UpdateFlag replaces a flag under optimistic concurrency: the row's
// stored version must match the caller's, otherwise utils.ErrConflict.
func (s *PostgresStore) UpdateFlag(ctx context.Context, flag *models.RiskFlag) error {
	evidence, err := json.Marshal(flag.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE risk_flags
		SET severity = $1, risk_score = $2, evidence = $3, confidence = $4,
		    status = $5, updated_at = $6, resolved_at = $7, resolved_by = $8,
		    hr_notes = $9, version = version + 1
		WHERE id = $10 AND version = $11`,
		string(flag.Severity), flag.RiskScore, evidence, flag.Confidence,
		string(flag.Status), flag.UpdatedAt, flag.ResolvedAt, flag.ResolvedBy,
		flag.HRNotes, flag.ID, flag.Version)
	if err != nil {
		return fmt.Errorf("update flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.ErrConflict
	}
	flag.Version++
	return nil
}

// CountActiveFlags counts the employee's ACTIVE flags in one cycle.
func (s *PostgresStore) CountActiveFlags(ctx context.Context, employeeID, cycleID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM risk_flags
		WHERE employee_id = $1 AND cycle_id = $2 AND status = 'ACTIVE'`,
		employeeID, cycleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active flags: %w", err)
	}
	return count, nil
}

// GetFlag fetches one flag by id, or nil.
func (s *PostgresStore) GetFlag(ctx context.Context, id uuid.UUID) (*models.RiskFlag, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, employee_id, cycle_id, flag_type, severity, risk_score,
		       evidence, confidence, status, detected_at, updated_at,
		       resolved_at, resolved_by, hr_notes, version
		FROM risk_flags WHERE id = $1`, id)
	flag, err := scanFlag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query flag: %w", err)
	}
	return flag, nil
}

// FlagsFor lists all flags for the employee in one cycle.
func (s *PostgresStore) FlagsFor(ctx context.Context, employeeID, cycleID string) ([]models.RiskFlag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, employee_id, cycle_id, flag_type, severity, risk_score,
		       evidence, confidence, status, detected_at, updated_at,
		       resolved_at, resolved_by, hr_notes, version
		FROM risk_flags
		WHERE employee_id = $1 AND cycle_id = $2
		ORDER BY detected_at DESC`, employeeID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	var flags []models.RiskFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		flags = append(flags, *flag)
	}
	return flags, rows.Err()
}

// SaveAnalysis upserts the per-(employee, cycle) snapshot.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, analysis models.RiskAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_analyses (employee_id, cycle_id, payload, analyzed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id, cycle_id)
		DO UPDATE SET payload = EXCLUDED.payload, analyzed_at = EXCLUDED.analyzed_at`,
		analysis.EmployeeID, analysis.CycleID, payload, analysis.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the stored snapshot, or nil.
func (s *PostgresStore) GetAnalysis(ctx context.Context, employeeID, cycleID string) (*models.RiskAnalysis, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM risk_analyses WHERE employee_id = $1 AND cycle_id = $2`,
		employeeID, cycleID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query analysis: %w", err)
	}
	var analysis models.RiskAnalysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &analysis, nil
}

// SaveAssessment upserts the potential assessment snapshot.
func (s *PostgresStore) SaveAssessment(ctx context.Context, assessment models.PotentialAssessment) error {
	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO potential_assessments (employee_id, cycle_id, payload, assessed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id, cycle_id)
		DO UPDATE SET payload = EXCLUDED.payload, assessed_at = EXCLUDED.assessed_at`,
		assessment.EmployeeID, assessment.CycleID, payload, assessment.AssessedAt)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

// GetAssessment returns the stored assessment, or nil.
func (s *PostgresStore) GetAssessment(ctx context.Context, employeeID, cycleID string) (*models.PotentialAssessment, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM potential_assessments WHERE employee_id = $1 AND cycle_id = $2`,
		employeeID, cycleID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query assessment: %w", err)
	}
	var assessment models.PotentialAssessment
	if err := json.Unmarshal(payload, &assessment); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &assessment, nil
}

// SaveReport upserts the population report for the cycle.
func (s *PostgresStore) SaveReport(ctx context.Context, report models.PopulationAnomalyReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO population_reports (cycle_id, payload, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cycle_id)
		DO UPDATE SET payload = EXCLUDED.payload, generated_at = EXCLUDED.generated_at`,
		report.CycleID, payload, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// LatestReport returns the stored report for the cycle, or nil.
func (s *PostgresStore) LatestReport(ctx context.Context, cycleID string) (*models.PopulationAnomalyReport, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM population_reports WHERE cycle_id = $1`, cycleID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	var report models.PopulationAnomalyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanFlag(row pgx.Row) (*models.RiskFlag, error) {
	var (
		flag     models.RiskFlag
		typ      string
		severity string
		status   string
		evidence []byte
	)
	err := row.Scan(&flag.ID, &flag.EmployeeID, &flag.CycleID, &typ, &severity,
		&flag.RiskScore, &evidence, &flag.Confidence, &status, &flag.DetectedAt,
		&flag.UpdatedAt, &flag.ResolvedAt, &flag.ResolvedBy, &flag.HRNotes, &flag.Version)
	if err != nil {
		return nil, err
	}
	flag.Type = models.FlagType(typ)
	flag.Severity = models.RiskLevel(severity)
	flag.Status = models.FlagStatus(status)
	if err := json.Unmarshal(evidence, &flag.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return &flag, nil
}
