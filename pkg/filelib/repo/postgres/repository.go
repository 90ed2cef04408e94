package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements filelib.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, filelib.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: duplicate entry", filelib.ErrInvalidArgument, operation)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s: referenced record not found", filelib.ErrInvalidArgument, operation)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: %s: required field %s is missing", filelib.ErrInvalidArgument, operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const fileColumns = `
	f.id, f.profile, f.name, f.status, f.resource_id, f.versions, f.created_at, f.updated_at,
	r.id, r.hash, r.mime_type, r.size, r.exclusive, r.versions, r.created_at`

const resourceColumns = `id, hash, mime_type, size, exclusive, versions, created_at`

// File operations

func (r *Repository) CreateFile(ctx context.Context, file *filelib.File) error {
	query := `
		INSERT INTO filelib_file (
			id, profile, name, status, resource_id, versions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		file.ID, file.Profile, file.Name, string(file.Status), resourceID(file),
		filelib.VersionStrings(file.VersionSet), file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create file", err)
	}
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*filelib.File, error) {
	query := `SELECT` + fileColumns + `
		FROM filelib_file f JOIN filelib_resource r ON r.id = f.resource_id
		WHERE f.id = $1`

	file, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get file", err)
	}
	return file, nil
}

func (r *Repository) GetFiles(ctx context.Context, ids []uuid.UUID) ([]*filelib.File, error) {
	query := `SELECT` + fileColumns + `
		FROM filelib_file f JOIN filelib_resource r ON r.id = f.resource_id
		WHERE f.id = ANY($1::uuid[])`

	rows, err := r.db.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, r.handlePostgresError("get files", err)
	}
	defer rows.Close()

	var files []*filelib.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, r.handlePostgresError("get files", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("get files", err)
	}
	return files, nil
}

func (r *Repository) UpdateFile(ctx context.Context, file *filelib.File) error {
	query := `
		UPDATE filelib_file SET
			profile = $2, name = $3, status = $4, resource_id = $5,
			versions = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		file.ID, file.Profile, file.Name, string(file.Status), resourceID(file),
		filelib.VersionStrings(file.VersionSet), file.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update file", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", file.ID, filelib.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM filelib_file WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete file", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, filelib.ErrNotFound)
	}
	return nil
}

// Resource operations

func (r *Repository) CreateResource(ctx context.Context, resource *filelib.Resource) error {
	query := `
		INSERT INTO filelib_resource (` + resourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		resource.ID, resource.Hash, resource.MimeType, resource.Size, resource.Exclusive,
		filelib.VersionStrings(resource.VersionSet), resource.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create resource", err)
	}
	return nil
}

func (r *Repository) GetResource(ctx context.Context, id uuid.UUID) (*filelib.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM filelib_resource WHERE id = $1`

	resource, err := scanResource(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get resource", err)
	}
	return resource, nil
}

func (r *Repository) GetResources(ctx context.Context, ids []uuid.UUID) ([]*filelib.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM filelib_resource WHERE id = ANY($1::uuid[])`
	return r.queryResources(ctx, "get resources", query, uuidStrings(ids))
}

func (r *Repository) GetResourcesByHash(ctx context.Context, hash string) ([]*filelib.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM filelib_resource WHERE hash = $1 ORDER BY created_at`
	return r.queryResources(ctx, "get resources by hash", query, hash)
}

func (r *Repository) UpdateResource(ctx context.Context, resource *filelib.Resource) error {
	query := `
		UPDATE filelib_resource SET
			hash = $2, mime_type = $3, size = $4, exclusive = $5, versions = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		resource.ID, resource.Hash, resource.MimeType, resource.Size, resource.Exclusive,
		filelib.VersionStrings(resource.VersionSet))
	if err != nil {
		return r.handlePostgresError("update resource", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", resource.ID, filelib.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteResource(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM filelib_resource WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete resource", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", id, filelib.ErrNotFound)
	}
	return nil
}

func (r *Repository) queryResources(ctx context.Context, op, query string, args ...interface{}) ([]*filelib.Resource, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	defer rows.Close()

	var resources []*filelib.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, r.handlePostgresError(op, err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	return resources, nil
}

func scanFile(row pgx.Row) (*filelib.File, error) {
	var (
		file             filelib.File
		resource         filelib.Resource
		status           string
		fileVersions     []string
		resourceVersions []string
	)
	err := row.Scan(
		&file.ID, &file.Profile, &file.Name, &status, &file.ResourceID, &fileVersions,
		&file.CreatedAt, &file.UpdatedAt,
		&resource.ID, &resource.Hash, &resource.MimeType, &resource.Size, &resource.Exclusive,
		&resourceVersions, &resource.CreatedAt)
	if err != nil {
		return nil, err
	}

	file.Status = filelib.FileStatus(status)
	if file.VersionSet, err = filelib.ParseVersions(fileVersions); err != nil {
		return nil, err
	}
	if resource.VersionSet, err = filelib.ParseVersions(resourceVersions); err != nil {
		return nil, err
	}
	file.Resource = &resource
	return &file, nil
}

func scanResource(row pgx.Row) (*filelib.Resource, error) {
	var (
		resource filelib.Resource
		versions []string
	)
	err := row.Scan(&resource.ID, &resource.Hash, &resource.MimeType, &resource.Size,
		&resource.Exclusive, &versions, &resource.CreatedAt)
	if err != nil {
		return nil, err
	}
	if resource.VersionSet, err = filelib.ParseVersions(versions); err != nil {
		return nil, err
	}
	return &resource, nil
}

func resourceID(file *filelib.File) uuid.UUID {
	if file.ResourceID == uuid.Nil && file.Resource != nil {
		return file.Resource.ID
	}
	return file.ResourceID
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

var _ filelib.Repository = (*Repository)(nil)
