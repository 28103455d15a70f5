package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// 一意制約名とエラーの対応
var uniqueConstraintErrors = map[string]error{
	"accounts_email_key":           ErrDuplicateEmail,
	"accounts_username_key":        ErrDuplicateUsername,
	"accounts_serial_number_key":   ErrDuplicateSerialNumber,
	"accounts_serial_seq_key":      ErrDuplicateSerialNumber,
	"accounts_social_identity_key": ErrDuplicateSocialIdentity,
}

const accountColumns = `id, serial_seq, serial_number, email, username, password_hash, registration_module,
	first_name, last_name, phone_number,
	address_street, address_city, address_state, address_zip_code, address_country,
	gender, date_of_birth, company, job_title,
	social_provider, social_id, google_id, facebook_id, github_id, linkedin_id,
	profile_picture, social_profile,
	is_email_verified, is_phone_verified, is_otp_verified, is_active,
	last_login_at, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return acc, nil
}

// FindByEmail は正規化済みメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return acc, nil
}

// FindByUsername はユーザー名でアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower($1)`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}
	return acc, nil
}

// ExistsByEmail は同じメールアドレスのアカウントが存在するかを返す。
func (r *PostgresAccountRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// ExistsByUsername は同じユーザー名のアカウントが存在するかを返す。
func (r *PostgresAccountRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE lower(username) = lower($1))`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists, nil
}

// Create はアカウントを作成する。
// 一意制約違反は ErrDuplicateEmail などのエラーに変換される。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	var profile []byte
	if a.SocialProfile != nil {
		b, err := json.Marshal(a.SocialProfile)
		if err != nil {
			return fmt.Errorf("failed to encode social profile: %w", err)
		}
		profile = b
	}

	addr := a.Address
	if addr == nil {
		addr = &model.Address{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		         $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)`,
		a.ID, a.SerialSeq, a.SerialNumber, a.Email, nullString(a.Username), nullString(a.PasswordHash), int(a.RegistrationModule),
		nullString(a.FirstName), nullString(a.LastName), nullString(a.PhoneNumber),
		nullString(addr.Street), nullString(addr.City), nullString(addr.State), nullString(addr.ZipCode), nullString(addr.Country),
		nullString(a.Gender), a.DateOfBirth, nullString(a.Company), nullString(a.JobTitle),
		string(a.SocialProvider), nullString(a.SocialID),
		nullString(a.GoogleID), nullString(a.FacebookID), nullString(a.GitHubID), nullString(a.LinkedInID),
		nullString(a.ProfilePicture), profile,
		a.IsEmailVerified, a.IsPhoneVerified, a.IsOtpVerified, a.IsActive,
		a.LastLoginAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresAccountRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = $2, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Deactivate はアカウントを無効化する。
func (r *PostgresAccountRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = false, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// Stats は登録モジュールごとの件数と最新のシリアル番号を集計する。
func (r *PostgresAccountRepo) Stats(ctx context.Context) (*model.Stats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT registration_module, COUNT(*) FROM accounts GROUP BY registration_module`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate accounts: %w", err)
	}
	defer rows.Close()

	stats := &model.Stats{PerModuleCounts: make(map[model.Module]int)}
	for rows.Next() {
		var module, count int
		if err := rows.Scan(&module, &count); err != nil {
			return nil, fmt.Errorf("failed to scan module count: %w", err)
		}
		stats.PerModuleCounts[model.Module(module)] = count
		stats.TotalAccounts += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate module counts: %w", err)
	}

	var last sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT serial_number FROM accounts ORDER BY serial_seq DESC LIMIT 1`,
	).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find last serial number: %w", err)
	}
	stats.LastSerialNumber = last.String

	return stats, nil
}

// Count はアカウントの総数を返す。
func (r *PostgresAccountRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a                                              model.Account
		module                                         int
		username, passwordHash                         sql.NullString
		firstName, lastName, phone                     sql.NullString
		street, city, state, zip, country              sql.NullString
		gender, company, jobTitle                      sql.NullString
		provider                                       string
		socialID, googleID, facebookID, githubID, liID sql.NullString
		picture                                        sql.NullString
		profile                                        []byte
		dob, lastLogin                                 sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.SerialSeq, &a.SerialNumber, &a.Email, &username, &passwordHash, &module,
		&firstName, &lastName, &phone,
		&street, &city, &state, &zip, &country,
		&gender, &dob, &company, &jobTitle,
		&provider, &socialID, &googleID, &facebookID, &githubID, &liID,
		&picture, &profile,
		&a.IsEmailVerified, &a.IsPhoneVerified, &a.IsOtpVerified, &a.IsActive,
		&lastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RegistrationModule = model.Module(module)
	a.Username = username.String
	a.PasswordHash = passwordHash.String
	a.FirstName = firstName.String
	a.LastName = lastName.String
	a.PhoneNumber = phone.String
	a.Gender = gender.String
	a.Company = company.String
	a.JobTitle = jobTitle.String
	a.SocialProvider = model.SocialProvider(provider)
	a.SocialID = socialID.String
	a.GoogleID = googleID.String
	a.FacebookID = facebookID.String
	a.GitHubID = githubID.String
	a.LinkedInID = liID.String
	a.ProfilePicture = picture.String

	addr := model.Address{
		Street:  street.String,
		City:    city.String,
		State:   state.String,
		ZipCode: zip.String,
		Country: country.String,
	}
	if addr != (model.Address{}) {
		a.Address = &addr
	}
	if dob.Valid {
		t := dob.Time
		a.DateOfBirth = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &a.SocialProfile); err != nil {
			return nil, fmt.Errorf("failed to decode social profile: %w", err)
		}
	}

	return &a, nil
}

// mapUniqueViolation は一意制約違反を対応するエラーに変換する。該当しなければnilを返す。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return nil
	}
	if mapped, ok := uniqueConstraintErrors[pqErr.Constraint]; ok {
		return mapped
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// MaxSerialSeq は serial_seq の最大値を返す。アカウントがなければ0。
func (r *PostgresAccountRepo) MaxSerialSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(serial_seq), 0) FROM accounts`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to find max serial seq: %w", err)
	}
	return seq, nil
}

var (
	_ AccountRepository = (*PostgresAccountRepo)(nil)
	_ SerialSeqReader   = (*PostgresAccountRepo)(nil)
)
