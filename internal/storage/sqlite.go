package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/servicehub/vetted/internal/model"
)

// SQLite implements ProviderStore against the marketplace's SQLite database,
// the format the original platform keeps provider records in.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the provider database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes at the driver level; a single connection
	// avoids SQLITE_BUSY under concurrent agent loops.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the provider table when absent.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS service_providers (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	business_name TEXT NOT NULL DEFAULT '',
	owner_name    TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	service_name  TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	national_id   TEXT NOT NULL DEFAULT '',
	tax_id        TEXT NOT NULL DEFAULT '',
	kyc_status    TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_providers_kyc ON service_providers (kyc_status);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure sqlite schema: %w", err)
	}
	return nil
}

// SaveProvider inserts or replaces a provider record. Dev and test helper.
func (s *SQLite) SaveProvider(ctx context.Context, p model.Provider) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO service_providers
			(id, email, business_name, owner_name, phone, service_name, location,
			 national_id, tax_id, kyc_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.BusinessName, p.OwnerName, p.Phone, p.ServiceName,
		p.Location, p.NationalID, p.TaxID, p.KYCStatus, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save provider %s: %w", p.ID, err)
	}
	return nil
}

const providerColumns = `id, email, business_name, owner_name, phone, service_name,
	location, national_id, tax_id, kyc_status, created_at`

// GetProvider implements ProviderStore.
func (s *SQLite) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Provider{}, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Provider{}, fmt.Errorf("storage: get provider %s: %w", id, err)
	}
	return p, nil
}

// ListProvidersByKYCStatus implements ProviderStore.
func (s *SQLite) ListProvidersByKYCStatus(ctx context.Context, status model.KYCStatus) ([]model.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers WHERE kyc_status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("storage: list providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByDocuments returns how many providers other than excludeProviderID
// registered either of the given identity documents.
func (s *SQLite) CountByDocuments(ctx context.Context, excludeProviderID, nationalID, taxID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM service_providers
		WHERE id != ?
		  AND ((? != '' AND national_id = ?) OR (? != '' AND tax_id = ?))`,
		excludeProviderID, nationalID, nationalID, taxID, taxID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count providers by documents: %w", err)
	}
	return n, nil
}

// UpdateKYCStatus implements ProviderStore.
func (s *SQLite) UpdateKYCStatus(ctx context.Context, id string, status model.KYCStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_providers SET kyc_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("storage: update kyc status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update kyc status %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanProvider(row rowScanner) (model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.Email, &p.BusinessName, &p.OwnerName, &p.Phone,
		&p.ServiceName, &p.Location, &p.NationalID, &p.TaxID, &p.KYCStatus, &p.CreatedAt)
	if err != nil {
		return model.Provider{}, err
	}
	return p, nil
}
