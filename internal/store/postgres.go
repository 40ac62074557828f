package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"voice-transform-service/internal/models"
)

// Postgres persists job records, batches, and audit events via pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database reachability for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertJob writes a freshly created record. The record arrives fully
// formed from the lifecycle manager; the store never invents state.
func (s *Postgres) InsertJob(ctx context.Context, rec models.JobRecord) error {
	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_records (
			id, kind, status, device,
			input_filename, input_size, input_duration,
			reference_filename, reference_size, reference_duration,
			text_content, params, output_format, output_quality,
			batch_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		rec.ID, rec.Kind, rec.Status, rec.Device,
		rec.Input.Filename, rec.Input.Size, rec.Input.Duration,
		rec.Reference.Filename, rec.Reference.Size, rec.Reference.Duration,
		rec.Text, paramsJSON, rec.OutputFormat, rec.OutputQuality,
		emptyToNil(rec.BatchID), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

const jobColumns = `
	id, kind, status, device,
	input_filename, input_size, input_duration,
	reference_filename, reference_size, reference_duration,
	text_content, params, output_format, output_quality,
	output_filename, output_size, output_duration,
	locator_kind, locator_path, locator_url,
	batch_id, created_at, completed_at, processing_time_seconds, error_message`

// GetJob fetches a record snapshot by id. The inline output payload is not
// scanned here; use OutputData when the bytes themselves are needed.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_records WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobByOutputFilename resolves a record from its output filename,
// serving the legacy /download surface.
func (s *Postgres) GetJobByOutputFilename(ctx context.Context, filename string) (models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_records WHERE output_filename = $1 ORDER BY created_at DESC LIMIT 1`, filename)
	return scanJob(row)
}

func scanJob(row pgx.Row) (models.JobRecord, error) {
	var rec models.JobRecord
	var paramsJSON []byte
	var outFilename, locKind, locPath, locURL, batchID, errMsg pgtype.Text
	var outSize pgtype.Int8
	var outDuration pgtype.Float8
	var completedAt pgtype.Timestamptz

	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.Status, &rec.Device,
		&rec.Input.Filename, &rec.Input.Size, &rec.Input.Duration,
		&rec.Reference.Filename, &rec.Reference.Size, &rec.Reference.Duration,
		&rec.Text, &paramsJSON, &rec.OutputFormat, &rec.OutputQuality,
		&outFilename, &outSize, &outDuration,
		&locKind, &locPath, &locURL,
		&batchID, &rec.CreatedAt, &completedAt, &rec.ProcessingTime, &errMsg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("scan job record: %w", err)
	}

	if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
		return models.JobRecord{}, fmt.Errorf("unmarshal params: %w", err)
	}
	if outFilename.Valid {
		rec.Output = &models.AudioInfo{
			Filename: outFilename.String,
			Size:     outSize.Int64,
			Duration: outDuration.Float64,
		}
	}
	if locKind.Valid {
		rec.OutputLocator = &models.Locator{
			Kind: locKind.String,
			Path: locPath.String,
			URL:  locURL.String,
		}
	}
	if batchID.Valid {
		rec.BatchID = batchID.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.ErrorMessage = textPtr(errMsg)
	return rec, nil
}

// OutputData loads the inline payload for a record, if any.
func (s *Postgres) OutputData(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT output_data FROM job_records WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query output data: %w", err)
	}
	if len(data) == 0 {
		return nil, models.ErrNotFound
	}
	return data, nil
}

// MarkProcessing transitions pending -> processing with a status CAS so
// exactly one of N concurrent callers wins.
func (s *Postgres) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_records SET status = $2 WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusPending)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return s.transitionOutcome(ctx, id, tag.RowsAffected())
}

// MarkCompleted transitions processing -> completed, stamping completion
// metadata, the output descriptors, and the authoritative locator in one
// statement.
func (s *Postgres) MarkCompleted(ctx context.Context, id string, output models.AudioInfo, locator models.Locator, data []byte, processingTime float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_records
		SET status = $2,
		    output_filename = $3, output_size = $4, output_duration = $5,
		    locator_kind = $6, locator_path = $7, locator_url = $8,
		    output_data = $9,
		    completed_at = NOW(), processing_time_seconds = $10, error_message = NULL
		WHERE id = $1 AND status = $11
	`, id, models.StatusCompleted,
		output.Filename, output.Size, output.Duration,
		locator.Kind, locator.Path, locator.URL,
		data, processingTime, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return s.transitionOutcome(ctx, id, tag.RowsAffected())
}

// MarkFailed transitions pending|processing -> failed and records the
// error message. Pre-invocation failures come straight from pending.
func (s *Postgres) MarkFailed(ctx context.Context, id, message string, processingTime float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_records
		SET status = $2, error_message = $3, completed_at = NOW(), processing_time_seconds = $4
		WHERE id = $1 AND status IN ($5, $6)
	`, id, models.StatusFailed, message, processingTime, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.transitionOutcome(ctx, id, tag.RowsAffected())
}

// MarkCancelled transitions pending|processing -> cancelled.
func (s *Postgres) MarkCancelled(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_records
		SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.StatusCancelled, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return s.transitionOutcome(ctx, id, tag.RowsAffected())
}

// transitionOutcome distinguishes an unknown id from a wrong-state record
// after a guarded UPDATE touched zero rows.
func (s *Postgres) transitionOutcome(ctx context.Context, id string, affected int64) error {
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM job_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrInvalidState
}

// InsertBatch writes a new batch row.
func (s *Postgres) InsertBatch(ctx context.Context, b models.Batch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (id, status, total_files, processed_files, failed_files, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.Status, b.Total, b.Processed, b.Failed, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch fetches a batch row by id.
func (s *Postgres) GetBatch(ctx context.Context, id string) (models.Batch, error) {
	var b models.Batch
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, total_files, processed_files, failed_files, created_at
		FROM batches WHERE id = $1
	`, id).Scan(&b.ID, &b.Status, &b.Total, &b.Processed, &b.Failed, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Batch{}, models.ErrNotFound
	}
	if err != nil {
		return models.Batch{}, fmt.Errorf("scan batch: %w", err)
	}
	return b, nil
}

// BumpBatchProgress increments the processed (and optionally failed)
// counters and flips status to a terminal aggregate once all items landed.
func (s *Postgres) BumpBatchProgress(ctx context.Context, id string, failed bool) error {
	failedInc := 0
	if failed {
		failedInc = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE batches
		SET processed_files = processed_files + 1,
		    failed_files = failed_files + $2,
		    status = CASE
		        WHEN processed_files + 1 >= total_files AND failed_files + $2 > 0 THEN 'failed'
		        WHEN processed_files + 1 >= total_files THEN 'completed'
		        ELSE 'processing'
		    END
		WHERE id = $1
	`, id, failedInc)
	if err != nil {
		return fmt.Errorf("bump batch progress: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row for a lifecycle transition.
func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
