package credential

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/ivan2020J/nozier/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotProvisioned is returned by Credential before Provision or Import ran.
	ErrNotProvisioned = errors.New("credential not provisioned")

	// ErrConflict is returned by Import when a different credential is already stored.
	ErrConflict = errors.New("a different credential is already provisioned")

	// ErrSealed is returned when the stored credential is sealed and no passphrase was given.
	ErrSealed = errors.New("stored credential is sealed; passphrase required")
)

const component = "credential"

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create credentials table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE credentials (
					id          INTEGER  PRIMARY KEY CHECK (id = 1),
					value       BLOB     NOT NULL,
					sealed      INTEGER  NOT NULL DEFAULT 0,
					salt        BLOB,
					created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					rotated_at  DATETIME
				)
			`)
			return err
		},
	},
}

// Store persists the single shared credential. Every read consults the
// database row, so a rotation by another process takes effect on the next
// call; the decoded value is reused while the row is unchanged.
// All methods are safe for concurrent use.
type Store struct {
	db     *sql.DB
	sealer sealer
	logger *zap.Logger

	mu     sync.RWMutex
	cached cachedRow
}

// row is the stored form of the credential.
type row struct {
	value  []byte
	salt   []byte
	sealed bool
}

func (r row) equal(o row) bool {
	return r.sealed == o.sealed && bytes.Equal(r.value, o.value) && bytes.Equal(r.salt, o.salt)
}

type cachedRow struct {
	row  row
	cred Credential
}

// NewStore applies the credential migrations and returns a Store. When
// passphrase is non-empty the credential is kept sealed at rest.
func NewStore(ctx context.Context, st *store.SQLiteStore, passphrase string, logger *zap.Logger) (*Store, error) {
	if err := st.Migrate(ctx, component, migrations); err != nil {
		return nil, fmt.Errorf("credential migrations: %w", err)
	}
	return &Store{
		db:     st.DB(),
		sealer: sealer{passphrase: passphrase},
		logger: logger,
	}, nil
}

// Credential returns the currently stored credential. Sealed rows are only
// opened again when the row changed since the previous call.
func (s *Store) Credential(ctx context.Context) (Credential, error) {
	r, err := s.readRow(ctx)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if !cached.cred.IsZero() && cached.row.equal(r) {
		return cached.cred, nil
	}

	c, err := s.decode(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.cached = cachedRow{row: r, cred: c}
	s.mu.Unlock()
	return c, nil
}

// Provision returns the stored credential, generating and storing one first
// if none exists. created reports whether this call created it.
func (s *Store) Provision(ctx context.Context) (c Credential, created bool, err error) {
	existing, err := s.load(ctx)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotProvisioned):
		return "", false, err
	}

	fresh, err := Generate()
	if err != nil {
		return "", false, err
	}
	inserted, err := s.insert(ctx, fresh)
	if err != nil {
		return "", false, err
	}

	// Lost a race with another provisioner: the stored value wins.
	stored, err := s.load(ctx)
	if err != nil {
		return "", false, err
	}
	if inserted {
		s.logger.Info("credential provisioned",
			zap.String("component", component),
			zap.String("fingerprint", stored.Fingerprint()),
			zap.Bool("sealed", s.sealer.enabled()),
		)
	}
	return stored, inserted, nil
}

// Import provisions a credential supplied by the operator. Importing the
// value that is already stored is a no-op.
func (s *Store) Import(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	existing, err := s.load(ctx)
	switch {
	case err == nil:
		if existing != c {
			return ErrConflict
		}
		return nil
	case !errors.Is(err, ErrNotProvisioned):
		return err
	}

	if _, err := s.insert(ctx, c); err != nil {
		return err
	}
	stored, err := s.load(ctx)
	if err != nil {
		return err
	}
	if stored != c {
		return ErrConflict
	}
	s.logger.Info("credential imported",
		zap.String("component", component),
		zap.String("fingerprint", stored.Fingerprint()),
	)
	return nil
}

// Rotate replaces the stored credential with a freshly generated one. Every
// Store on the same database, including one in a running server, returns the
// new value from its next Credential call.
func (s *Store) Rotate(ctx context.Context) (Credential, error) {
	fresh, err := Generate()
	if err != nil {
		return "", err
	}
	if err := s.replace(ctx, fresh); err != nil {
		return "", err
	}
	s.logger.Info("credential rotated",
		zap.String("component", component),
		zap.String("fingerprint", fresh.Fingerprint()),
	)
	return fresh, nil
}

// Reseal rewrites a plaintext row sealed under the configured passphrase.
// It is a no-op when sealing is disabled or the row is already sealed.
func (s *Store) Reseal(ctx context.Context) error {
	if !s.sealer.enabled() {
		return nil
	}
	var sealed bool
	err := s.db.QueryRowContext(ctx, "SELECT sealed FROM credentials WHERE id = 1").Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && sealed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query credential: %w", err)
	}

	c, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := s.replace(ctx, c); err != nil {
		return err
	}
	s.logger.Info("credential sealed at rest", zap.String("component", component))
	return nil
}

func (s *Store) encode(c Credential) (value, salt []byte, sealed bool, err error) {
	if !s.sealer.enabled() {
		return []byte(c), nil, false, nil
	}
	salt, value, err = s.sealer.seal([]byte(c))
	if err != nil {
		return nil, nil, false, fmt.Errorf("seal credential: %w", err)
	}
	return value, salt, true, nil
}

func (s *Store) insert(ctx context.Context, c Credential) (bool, error) {
	value, salt, sealed, err := s.encode(c)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, value, sealed, salt) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		value, sealed, salt,
	)
	if err != nil {
		return false, fmt.Errorf("insert credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert credential: %w", err)
	}
	return n == 1, nil
}

func (s *Store) replace(ctx context.Context, c Credential) error {
	value, salt, sealed, err := s.encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, value, sealed, salt) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			value = excluded.value,
			sealed = excluded.sealed,
			salt = excluded.salt,
			rotated_at = CURRENT_TIMESTAMP`,
		value, sealed, salt,
	)
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) (Credential, error) {
	r, err := s.readRow(ctx)
	if err != nil {
		return "", err
	}
	return s.decode(r)
}

func (s *Store) readRow(ctx context.Context) (row, error) {
	var r row
	err := s.db.QueryRowContext(ctx,
		"SELECT value, sealed, salt FROM credentials WHERE id = 1",
	).Scan(&r.value, &r.sealed, &r.salt)
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, ErrNotProvisioned
	}
	if err != nil {
		return row{}, fmt.Errorf("query credential: %w", err)
	}
	return r, nil
}

func (s *Store) decode(r row) (Credential, error) {
	value := r.value
	if r.sealed {
		if !s.sealer.enabled() {
			return "", ErrSealed
		}
		var err error
		value, err = s.sealer.open(r.salt, r.value)
		if err != nil {
			return "", err
		}
	}

	c := Credential(value)
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("stored credential: %w", err)
	}
	return c, nil
}
