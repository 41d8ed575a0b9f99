package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// Postgres объединяет доступ к таблицам бота поверх одного соединения.
type Postgres struct {
	db *sql.DB

	Users   *PostgresUserRepository
	Records *PostgresRecordRepository
	States  *PostgresStateRepository
}

// NewPostgres открывает соединение, проверяет его и создаёт таблицы,
// если их ещё нет.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{
		db:      db,
		Users:   &PostgresUserRepository{db: db},
		Records: &PostgresRecordRepository{db: db},
		States:  &PostgresStateRepository{db: db},
	}

	if err := p.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close закрывает соединение с базой.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			company_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			bitrix_id BIGINT,
			traffic_source TEXT NOT NULL DEFAULT '',
			is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			privacy_consent BOOLEAN NOT NULL DEFAULT FALSE,
			registration_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id SERIAL PRIMARY KEY,
			lead_number TEXT UNIQUE NOT NULL,
			bitrix_lead_id BIGINT NOT NULL,
			owner_telegram_id BIGINT NOT NULL REFERENCES users(telegram_id),
			entity_type TEXT NOT NULL DEFAULT 'lead',
			owner_role TEXT NOT NULL DEFAULT 'designer',
			client_full_name TEXT NOT NULL DEFAULT '',
			client_phone TEXT NOT NULL DEFAULT '',
			project_file_id TEXT NOT NULL DEFAULT '',
			project_file_name TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			created_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_states (
			telegram_id BIGINT PRIMARY KEY,
			state TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PostgresUserRepository хранилище пользователей в PostgreSQL
type PostgresUserRepository struct {
	db *sql.DB
}

func (r *PostgresUserRepository) Get(ctx context.Context, telegramID int64) (*entity.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT telegram_id, full_name, phone, email, company_name, role, bitrix_id,
		        traffic_source, is_blocked, privacy_consent, registration_date, last_activity
		 FROM users WHERE telegram_id = $1`, telegramID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) Add(ctx context.Context, user *entity.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, traffic_source, registration_date, last_activity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (telegram_id) DO NOTHING`,
		user.TelegramID, user.TrafficSource, user.RegistrationDate, user.LastActivity)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *entity.User) error {
	var bitrixID sql.NullInt64
	if user.BitrixID != 0 {
		bitrixID = sql.NullInt64{Int64: user.BitrixID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET full_name = $2, phone = $3, email = $4, company_name = $5,
		        role = $6, bitrix_id = $7, traffic_source = $8, is_blocked = $9,
		        privacy_consent = $10, last_activity = NOW()
		 WHERE telegram_id = $1`,
		user.TelegramID, user.FullName, user.Phone, user.Email, user.CompanyName,
		string(user.Role), bitrixID, user.TrafficSource, user.IsBlocked, user.PrivacyConsent)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) All(ctx context.Context) ([]*entity.User, error) {
	return r.query(ctx,
		`SELECT telegram_id, full_name, phone, email, company_name, role, bitrix_id,
		        traffic_source, is_blocked, privacy_consent, registration_date, last_activity
		 FROM users ORDER BY registration_date`)
}

func (r *PostgresUserRepository) ByRole(ctx context.Context, role entity.Role) ([]*entity.User, error) {
	return r.query(ctx,
		`SELECT telegram_id, full_name, phone, email, company_name, role, bitrix_id,
		        traffic_source, is_blocked, privacy_consent, registration_date, last_activity
		 FROM users WHERE role = $1 ORDER BY registration_date`, string(role))
}

func (r *PostgresUserRepository) SetBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_blocked = $2 WHERE telegram_id = $1`, telegramID, blocked)
	if err != nil {
		return fmt.Errorf("update user blocked: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) query(ctx context.Context, q string, args ...any) ([]*entity.User, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*entity.User, error) {
	var (
		u        entity.User
		role     string
		bitrixID sql.NullInt64
	)
	err := row.Scan(&u.TelegramID, &u.FullName, &u.Phone, &u.Email, &u.CompanyName,
		&role, &bitrixID, &u.TrafficSource, &u.IsBlocked, &u.PrivacyConsent,
		&u.RegistrationDate, &u.LastActivity)
	if err != nil {
		return nil, err
	}
	u.Role = entity.Role(role)
	if bitrixID.Valid {
		u.BitrixID = bitrixID.Int64
	}
	return &u, nil
}

// PostgresRecordRepository кэш лидов/сделок в PostgreSQL
type PostgresRecordRepository struct {
	db *sql.DB
}

func (r *PostgresRecordRepository) Add(ctx context.Context, record *entity.Record) error {
	if record.CreatedDate.IsZero() {
		record.CreatedDate = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records (lead_number, bitrix_lead_id, owner_telegram_id, entity_type,
		        owner_role, client_full_name, client_phone, project_file_id,
		        project_file_name, comment, status, created_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.LeadNumber, record.BitrixLeadID, record.OwnerTelegramID, string(record.EntityType),
		string(record.OwnerRole), record.ClientFullName, record.ClientPhone, record.ProjectFileID,
		record.ProjectFileName, record.Comment, record.Status, record.CreatedDate)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (r *PostgresRecordRepository) ByOwner(ctx context.Context, telegramID int64) ([]*entity.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lead_number, bitrix_lead_id, owner_telegram_id, entity_type, owner_role,
		        client_full_name, client_phone, project_file_id, project_file_name,
		        comment, status, created_date
		 FROM records WHERE owner_telegram_id = $1 ORDER BY created_date DESC`, telegramID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []*entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRecordRepository) ByNumber(ctx context.Context, leadNumber string) (*entity.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT lead_number, bitrix_lead_id, owner_telegram_id, entity_type, owner_role,
		        client_full_name, client_phone, project_file_id, project_file_name,
		        comment, status, created_date
		 FROM records WHERE lead_number = $1`, leadNumber)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRecordRepository) UpdateStatus(ctx context.Context, leadNumber, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET status = $2 WHERE lead_number = $1`, leadNumber, status)
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	return nil
}

func (r *PostgresRecordRepository) Delete(ctx context.Context, leadNumber string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM records WHERE lead_number = $1`, leadNumber)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func scanRecord(row rowScanner) (*entity.Record, error) {
	var (
		rec        entity.Record
		entityType string
		role       string
	)
	err := row.Scan(&rec.LeadNumber, &rec.BitrixLeadID, &rec.OwnerTelegramID, &entityType,
		&role, &rec.ClientFullName, &rec.ClientPhone, &rec.ProjectFileID,
		&rec.ProjectFileName, &rec.Comment, &rec.Status, &rec.CreatedDate)
	if err != nil {
		return nil, err
	}
	rec.EntityType = entity.RecordType(entityType)
	rec.OwnerRole = entity.Role(role)
	return &rec, nil
}

// PostgresStateRepository хранилище состояний диалогов в PostgreSQL
type PostgresStateRepository struct {
	db *sql.DB
}

func (r *PostgresStateRepository) Get(ctx context.Context, telegramID int64) (*entity.Conversation, error) {
	var (
		state string
		data  string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT state, data FROM user_states WHERE telegram_id = $1`, telegramID).
		Scan(&state, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}

	conv := &entity.Conversation{TelegramID: telegramID, State: entity.State(state)}
	if err := json.Unmarshal([]byte(data), &conv.Data); err != nil {
		return nil, fmt.Errorf("decode state data: %w", err)
	}
	return conv, nil
}

func (r *PostgresStateRepository) Set(ctx context.Context, conv *entity.Conversation) error {
	data := conv.Data
	if data == nil {
		data = map[string]string{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode state data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_states (telegram_id, state, data) VALUES ($1, $2, $3)
		 ON CONFLICT (telegram_id) DO UPDATE SET state = EXCLUDED.state, data = EXCLUDED.data`,
		conv.TelegramID, string(conv.State), string(encoded))
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

func (r *PostgresStateRepository) Clear(ctx context.Context, telegramID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_states WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Проверка реализации интерфейсов
var (
	_ port.UserRepository   = (*PostgresUserRepository)(nil)
	_ port.RecordRepository = (*PostgresRecordRepository)(nil)
	_ port.StateRepository  = (*PostgresStateRepository)(nil)
)
