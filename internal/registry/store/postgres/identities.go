package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	txcontext "idregistry/pkg/platform/tx"

	"idregistry/internal/registry/models"
	"idregistry/pkg/domerrors"
)

func (s *Store) AddUniqueIdentity(ctx context.Context, uuid string) (*models.UniqueIdentity, error) {
	now := time.Now().UTC()
	q := s.q(ctx)
	_, err := q.ExecContext(ctx,
		`INSERT INTO unique_identities (uuid, created_at, last_modified) VALUES ($1, $2, $2)`,
		uuid, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domerrors.New(domerrors.CodeDuplicate, "unique identity %q already exists", uuid)
		}
		return nil, fmt.Errorf("add unique identity: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO profiles (uuid, is_bot, created_at, last_modified) VALUES ($1, FALSE, $2, $2)`,
		uuid, now)
	if err != nil {
		return nil, fmt.Errorf("add profile: %w", err)
	}
	return &models.UniqueIdentity{
		UUID:         uuid,
		Profile:      &models.Profile{UUID: uuid, CreatedAt: now, LastModified: now},
		CreatedAt:    now,
		LastModified: now,
	}, nil
}

// FindUniqueIdentity loads the full cluster aggregate. Inside a transaction
// the cluster row is locked so concurrent merges and moves serialize on it.
func (s *Store) FindUniqueIdentity(ctx context.Context, uuid string) (*models.UniqueIdentity, error) {
	query := `SELECT uuid, created_at, last_modified FROM unique_identities WHERE uuid = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}

	var uid models.UniqueIdentity
	err := s.q(ctx).QueryRowContext(ctx, query, uuid).Scan(&uid.UUID, &uid.CreatedAt, &uid.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("find unique identity: %w", err)
	}
	if err := s.loadCluster(ctx, &uid); err != nil {
		return nil, err
	}
	return &uid, nil
}

func (s *Store) loadCluster(ctx context.Context, uid *models.UniqueIdentity) error {
	profile, err := s.findProfile(ctx, uid.UUID)
	if err != nil && !domerrors.Is(err, domerrors.CodeNotFound) {
		return err
	}
	uid.Profile = profile

	identities, err := s.identitiesOf(ctx, uid.UUID)
	if err != nil {
		return err
	}
	uid.Identities = identities

	enrollments, err := s.enrollmentsOf(ctx, uid.UUID)
	if err != nil {
		return err
	}
	uid.Enrollments = enrollments
	return nil
}

func (s *Store) identitiesOf(ctx context.Context, uuid string) ([]models.Identity, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, name, email, username, source, uuid, created_at, last_modified
		 FROM identities WHERE uuid = $1 ORDER BY id`,
		uuid)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		var identity models.Identity
		err := rows.Scan(&identity.ID, &identity.Name, &identity.Email, &identity.Username,
			&identity.Source, &identity.UUID, &identity.CreatedAt, &identity.LastModified)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *Store) DeleteUniqueIdentity(ctx context.Context, uuid string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM unique_identities WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("delete unique identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete unique identity: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", uuid)
	}
	return nil
}

func (s *Store) ListUniqueIdentities(ctx context.Context, uuidEq string, offset, limit int) ([]models.UniqueIdentity, int, error) {
	q := s.q(ctx)

	var total int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM unique_identities WHERE ($1 = '' OR uuid = $1)`,
		uuidEq).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count unique identities: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT uuid, created_at, last_modified FROM unique_identities
		 WHERE ($1 = '' OR uuid = $1) ORDER BY uuid OFFSET $2 LIMIT $3`,
		uuidEq, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list unique identities: %w", err)
	}
	defer rows.Close()

	var uids []models.UniqueIdentity
	for rows.Next() {
		var uid models.UniqueIdentity
		if err := rows.Scan(&uid.UUID, &uid.CreatedAt, &uid.LastModified); err != nil {
			return nil, 0, fmt.Errorf("scan unique identity: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range uids {
		if err := s.loadCluster(ctx, &uids[i]); err != nil {
			return nil, 0, err
		}
	}
	return uids, total, nil
}

func (s *Store) AddIdentity(ctx context.Context, identity *models.Identity) error {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO identities (id, name, email, username, source, uuid, created_at, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		identity.ID, identity.Name, identity.Email, identity.Username,
		identity.Source, identity.UUID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domerrors.New(domerrors.CodeDuplicate, "identity %q already exists", identity.ID)
		}
		if isForeignKeyViolation(err) {
			return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", identity.UUID)
		}
		return fmt.Errorf("add identity: %w", err)
	}
	identity.CreatedAt = now
	identity.LastModified = now
	return s.touchUniqueIdentity(ctx, identity.UUID, now)
}

func (s *Store) FindIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, email, username, source, uuid, created_at, last_modified
		 FROM identities WHERE id = $1`,
		id).Scan(&identity.ID, &identity.Name, &identity.Email, &identity.Username,
		&identity.Source, &identity.UUID, &identity.CreatedAt, &identity.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return &identity, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	return nil
}

func (s *Store) MoveIdentity(ctx context.Context, id, toUUID string) error {
	now := time.Now().UTC()
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE identities SET uuid = $2, last_modified = $3 WHERE id = $1`,
		id, toUUID, now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", toUUID)
		}
		return fmt.Errorf("move identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move identity: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	return s.touchUniqueIdentity(ctx, toUUID, now)
}

func (s *Store) touchUniqueIdentity(ctx context.Context, uuid string, now time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE unique_identities SET last_modified = $2 WHERE uuid = $1`, uuid, now)
	if err != nil {
		return fmt.Errorf("touch unique identity: %w", err)
	}
	return nil
}

func (s *Store) findProfile(ctx context.Context, uuid string) (*models.Profile, error) {
	var p models.Profile
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT uuid, name, email, gender, gender_acc, is_bot, country_code, created_at, last_modified
		 FROM profiles WHERE uuid = $1`,
		uuid).Scan(&p.UUID, &p.Name, &p.Email, &p.Gender, &p.GenderAcc, &p.IsBot,
		&p.CountryCode, &p.CreatedAt, &p.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "profile %q not found", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, profile *models.Profile) error {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO profiles (uuid, name, email, gender, gender_acc, is_bot, country_code, created_at, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (uuid) DO UPDATE SET
		     name = EXCLUDED.name,
		     email = EXCLUDED.email,
		     gender = EXCLUDED.gender,
		     gender_acc = EXCLUDED.gender_acc,
		     is_bot = EXCLUDED.is_bot,
		     country_code = EXCLUDED.country_code,
		     last_modified = EXCLUDED.last_modified`,
		profile.UUID, profile.Name, profile.Email, profile.Gender, profile.GenderAcc,
		profile.IsBot, profile.CountryCode, now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", profile.UUID)
		}
		return fmt.Errorf("save profile: %w", err)
	}
	return s.touchUniqueIdentity(ctx, profile.UUID, now)
}
