package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ratedesk.org/internal/ids"
)

var (
	_ IdentityStore   = (*PGStore)(nil)
	_ RoleStore       = (*PGStore)(nil)
	_ DelegationStore = (*PGStore)(nil)
)

// PGStore implements the credential store gateway, role and delegation
// stores on PostgreSQL. The failed-login counter is bumped with a single
// UPDATE so concurrent attempts are serialized by the database, and Save
// deliberately skips the counter columns.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// storeErr wraps driver failures as transient so callers can retry; row
// misses stay ErrNotFound.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

const identityColumns = `id, login_name, email, credential_hash, role_code, role_ref,
	organization_ref, active, failed_login_count, lock_until, last_login_at, created_at, updated_at`

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident       Identity
		lockUntil   sql.NullTime
		lastLoginAt sql.NullTime
	)
	err := row.Scan(
		&ident.ID, &ident.LoginName, &ident.Email, &ident.CredentialHash,
		&ident.RoleCode, &ident.RoleRef, &ident.OrganizationRef, &ident.Active,
		&ident.FailedLoginCount, &lockUntil, &lastLoginAt,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockUntil.Valid {
		t := lockUntil.Time
		ident.LockUntil = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		ident.LastLoginAt = &t
	}
	return &ident, nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, storeErr("find identity", err)
	}
	return ident, nil
}

func (s *PGStore) FindByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(login_name)=$1 or lower(email)=$1`,
		identifier)
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, storeErr("find identity by identifier", err)
	}
	return ident, nil
}

func (s *PGStore) IncrementFailedLogin(ctx context.Context, id string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`update identities
		set failed_login_count = failed_login_count + 1, updated_at = now()
		where id=$1
		returning failed_login_count`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, storeErr("increment failed login", err)
	}
	return count, nil
}

func (s *PGStore) ResetFailedLogin(ctx context.Context, id string, loginAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update identities
		set failed_login_count = 0, lock_until = null, last_login_at = $2, updated_at = now()
		where id=$1`, id, loginAt)
	if err != nil {
		return storeErr("reset failed login", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("reset failed login", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Save(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
		_, err := s.db.ExecContext(ctx,
			`insert into identities(id, login_name, email, credential_hash, role_code, role_ref,
				organization_ref, active, lock_until)
			values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			identity.ID, identity.LoginName, identity.Email, identity.CredentialHash,
			identity.RoleCode, identity.RoleRef, identity.OrganizationRef,
			identity.Active, identity.LockUntil,
		)
		return storeErr("insert identity", err)
	}

	res, err := s.db.ExecContext(ctx,
		`update identities
		set login_name=$2, email=$3, credential_hash=$4, role_code=$5, role_ref=$6,
			organization_ref=$7, active=$8, lock_until=$9, updated_at=now()
		where id=$1`,
		identity.ID, identity.LoginName, identity.Email, identity.CredentialHash,
		identity.RoleCode, identity.RoleRef, identity.OrganizationRef,
		identity.Active, identity.LockUntil,
	)
	if err != nil {
		return storeErr("update identity", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("update identity", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

func (s *PGStore) FindRole(ctx context.Context, code string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select code, level, description, permissions, created_at, updated_at from roles where code=$1`,
		code)
	var (
		role  Role
		perms []byte
	)
	if err := row.Scan(&role.Code, &role.Level, &role.Description, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, storeErr("find role", err)
	}
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return nil, fmt.Errorf("decode role permissions: %w", err)
	}
	return &role, nil
}

// Delegation store ---------------------------------------------------------

func (s *PGStore) CreateDelegation(ctx context.Context, d *Delegation) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	perms, err := json.Marshal(d.Permissions)
	if err != nil {
		return fmt.Errorf("encode delegation permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into delegations(id, granter_id, grantee_id, permissions, issued_at, expires_at, revoked)
		values($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.GranterID, d.GranteeID, perms, d.IssuedAt, d.ExpiresAt, d.Revoked,
	)
	return storeErr("insert delegation", err)
}

func (s *PGStore) FindDelegation(ctx context.Context, id string) (*Delegation, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, granter_id, grantee_id, permissions, issued_at, expires_at, revoked
		from delegations where id=$1`, id)
	var (
		d     Delegation
		perms []byte
	)
	if err := row.Scan(&d.ID, &d.GranterID, &d.GranteeID, &perms, &d.IssuedAt, &d.ExpiresAt, &d.Revoked); err != nil {
		return nil, storeErr("find delegation", err)
	}
	if err := json.Unmarshal(perms, &d.Permissions); err != nil {
		return nil, fmt.Errorf("decode delegation permissions: %w", err)
	}
	return &d, nil
}

func (s *PGStore) ActiveByGrantee(ctx context.Context, granteeID string, now time.Time) ([]Delegation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, granter_id, grantee_id, permissions, issued_at, expires_at, revoked
		from delegations
		where grantee_id=$1 and revoked=false and expires_at > $2
		order by issued_at asc`, granteeID, now)
	if err != nil {
		return nil, storeErr("list active delegations", err)
	}
	defer rows.Close()

	var res []Delegation
	for rows.Next() {
		var (
			d     Delegation
			perms []byte
		)
		if err := rows.Scan(&d.ID, &d.GranterID, &d.GranteeID, &perms, &d.IssuedAt, &d.ExpiresAt, &d.Revoked); err != nil {
			return nil, storeErr("scan delegation", err)
		}
		if err := json.Unmarshal(perms, &d.Permissions); err != nil {
			return nil, fmt.Errorf("decode delegation permissions: %w", err)
		}
		res = append(res, d)
	}
	return res, storeErr("list active delegations", rows.Err())
}

func (s *PGStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update delegations set revoked=true where id=$1`, id)
	if err != nil {
		return storeErr("revoke delegation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("revoke delegation", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
