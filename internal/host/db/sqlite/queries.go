package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atriumhq/atrium/internal/host/db"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// executor abstracts *sql.DB and *sql.Tx for shared query logic.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	exec executor
}

var _ db.Queries = (*queries)(nil)

func (q *queries) Apps() db.AppRepository {
	return &appRepository{exec: q.exec}
}

func (q *queries) Instances() db.InstanceRepository {
	return &instanceRepository{exec: q.exec}
}

type rowScanner interface {
	Scan(dest ...any) error
}

type appRepository struct {
	exec executor
}

var _ db.AppRepository = (*appRepository)(nil)

func (r *appRepository) Upsert(ctx context.Context, app db.App) error {
	_, err := r.exec.ExecContext(
		ctx,
		`INSERT INTO apps (name, version, enabled, metadata)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
             version = excluded.version,
             enabled = excluded.enabled,
             metadata = excluded.metadata,
             updated_at = CURRENT_TIMESTAMP;`,
		app.Name,
		app.Version,
		app.Enabled,
		app.Metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert app: %w", err)
	}
	return nil
}

func (r *appRepository) List(ctx context.Context) ([]db.App, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT id, name, version, enabled, metadata, installed_at, updated_at FROM apps ORDER BY name ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	var apps []db.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (r *appRepository) GetByName(ctx context.Context, name string) (*db.App, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT id, name, version, enabled, metadata, installed_at, updated_at FROM apps WHERE name = ?;`, name)
	app, err := scanApp(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (r *appRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := r.exec.ExecContext(ctx, `UPDATE apps SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?;`, enabled, name)
	if err != nil {
		return fmt.Errorf("set app enabled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set app enabled: app %s not found", name)
	}
	return nil
}

func (r *appRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM apps WHERE name = ?;`, name); err != nil {
		return fmt.Errorf("delete app: %w", err)
	}
	return nil
}

func scanApp(row rowScanner) (db.App, error) {
	var (
		app         db.App
		installedAt string
		updatedAt   string
	)
	if err := row.Scan(&app.ID, &app.Name, &app.Version, &app.Enabled, &app.Metadata, &installedAt, &updatedAt); err != nil {
		return db.App{}, err
	}
	var err error
	if app.InstalledAt, err = coerceTime(installedAt); err != nil {
		return db.App{}, fmt.Errorf("parse installed_at: %w", err)
	}
	if app.UpdatedAt, err = coerceTime(updatedAt); err != nil {
		return db.App{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return app, nil
}

type instanceRepository struct {
	exec executor
}

var _ db.InstanceRepository = (*instanceRepository)(nil)

func (r *instanceRepository) Create(ctx context.Context, inst *db.Instance) (int64, error) {
	res, err := r.exec.ExecContext(
		ctx,
		`INSERT INTO instances (instance_id, app_name, status, message) VALUES (?, ?, ?, ?);`,
		inst.InstanceID,
		inst.AppName,
		string(inst.Status),
		inst.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("insert instance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("instance last insert id: %w", err)
	}
	return id, nil
}

func (r *instanceRepository) GetByInstanceID(ctx context.Context, instanceID string) (*db.Instance, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT id, instance_id, app_name, status, message, created_at, updated_at FROM instances WHERE instance_id = ?;`, instanceID)
	inst, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

func (r *instanceRepository) List(ctx context.Context) ([]db.Instance, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT id, instance_id, app_name, status, message, created_at, updated_at FROM instances ORDER BY created_at ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var instances []db.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *instanceRepository) UpdateStatus(ctx context.Context, instanceID string, status db.InstanceStatus, message string) error {
	res, err := r.exec.ExecContext(
		ctx,
		`UPDATE instances SET status = ?, message = ?, updated_at = CURRENT_TIMESTAMP WHERE instance_id = ?;`,
		string(status),
		message,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update instance status: instance %s not found", instanceID)
	}
	return nil
}

func (r *instanceRepository) Delete(ctx context.Context, instanceID string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = ?;`, instanceID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

func scanInstance(row rowScanner) (db.Instance, error) {
	var (
		inst      db.Instance
		status    string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&inst.ID, &inst.InstanceID, &inst.AppName, &status, &inst.Message, &createdAt, &updatedAt); err != nil {
		return db.Instance{}, err
	}
	inst.Status = db.InstanceStatus(status)
	var err error
	if inst.CreatedAt, err = coerceTime(createdAt); err != nil {
		return db.Instance{}, fmt.Errorf("parse created_at: %w", err)
	}
	if inst.UpdatedAt, err = coerceTime(updatedAt); err != nil {
		return db.Instance{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return inst, nil
}

func coerceTime(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
