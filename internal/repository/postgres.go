// Package repository содержит реализацию хранилища пожертвований в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDonationNotFound возвращается, если пожертвование не найдено.
var (
	ErrDonationNotFound = errors.New("donation not found")
	// ErrDonationExists возвращается при попытке создать пожертвование
	// с уже занятой парой (externalId, fiscalYear).
	ErrDonationExists = errors.New("donation already exists for external id and fiscal year")
	// ErrVersionConflict возвращается, если пожертвование было изменено
	// конкурентно; вызывающий должен перечитать и повторить.
	ErrVersionConflict = errors.New("donation version conflict")
	// ErrReceiptNumberTaken возвращается, если номер квитанции уже занят.
	ErrReceiptNumberTaken = errors.New("receipt number already taken")
)

// PostgresRepository предоставляет доступ к хранилищу пожертвований в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetByID возвращает пожертвование по идентификатору.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*model.Donation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT payload, version FROM donations WHERE id = $1`,
		id,
	)
	return scanDonation(row)
}

// FindByExternalIDAndFiscalYear возвращает регулярное пожертвование по внешнему
// идентификатору и фискальному году. Разовые пожертвования не участвуют в поиске:
// их external_id не попадает в индексируемую колонку.
func (r *PostgresRepository) FindByExternalIDAndFiscalYear(ctx context.Context, externalID string, fiscalYear int) (*model.Donation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT payload, version FROM donations WHERE external_id = $1 AND fiscal_year = $2 AND external_id <> ''`,
		externalID, fiscalYear,
	)
	return scanDonation(row)
}

func scanDonation(row pgx.Row) (*model.Donation, error) {
	var (
		payload []byte
		version int64
	)
	if err := row.Scan(&payload, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("scan donation: %w", err)
	}

	var d model.Donation
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("unmarshal donation: %w", err)
	}
	d.Version = version

	return &d, nil
}

// Create сохраняет новое пожертвование.
//
// Индексируемая колонка external_id заполняется только для регулярных
// пожертвований: уникальность пары (external_id, fiscal_year) и поиск для
// слияния касаются только их, разовые пожертвования создаются всегда.
// В payload внешний идентификатор сохраняется в любом случае.
func (r *PostgresRepository) Create(ctx context.Context, d *model.Donation) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal donation: %w", err)
	}

	indexedExternalID := ""
	if d.Type == model.DonationTypeRecurrent {
		indexedExternalID = d.ExternalID
	}

	err = r.withRetry(ctx, func() error {
		_, execErr := r.pool.Exec(ctx,
			`INSERT INTO donations (id, external_id, fiscal_year, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			d.ID, indexedExternalID, d.FiscalYear, payload, d.CreatedAt,
		)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s/%d", ErrDonationExists, d.ExternalID, d.FiscalYear)
		}
		return fmt.Errorf("create donation: %w", err)
	}

	d.Version = 1
	return nil
}

// Update сохраняет изменённое пожертвование с проверкой версии.
// При конкурентном изменении возвращает ErrVersionConflict.
func (r *PostgresRepository) Update(ctx context.Context, d *model.Donation) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal donation: %w", err)
	}

	var tag pgconn.CommandTag
	err = r.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx,
			`UPDATE donations SET payload = $3, version = version + 1
			 WHERE id = $1 AND version = $2`,
			d.ID, d.Version, payload,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrVersionConflict, d.ID)
	}

	d.Version++
	return nil
}

// IsReceiptNumberUnique проверяет, свободен ли номер квитанции.
func (r *PostgresRepository) IsReceiptNumberUnique(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM receipt_numbers WHERE number = $1)`,
		number,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check receipt number: %w", err)
	}
	return !exists, nil
}

// ReserveReceiptNumber атомарно резервирует номер квитанции за пожертвованием.
// Уникальность гарантируется первичным ключом таблицы.
func (r *PostgresRepository) ReserveReceiptNumber(ctx context.Context, donationID, number string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO receipt_numbers (number, donation_id) VALUES ($1, $2)`,
		number, donationID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrReceiptNumberTaken, number)
		}
		return fmt.Errorf("reserve receipt number: %w", err)
	}
	return nil
}
