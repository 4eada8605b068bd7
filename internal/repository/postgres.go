// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
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
	"github.com/sethvargo/go-retry"

	"github.com/rafaelq/boosthub/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать профиль с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если профиль пользователя не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrPaymentAlreadyProcessed возвращается при повторной доставке уже зачисленного платежа.
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConfigMissing возвращается, если строка конфигурации провайдера отсутствует.
	ErrConfigMissing = errors.New("service config missing")
	// ErrServiceUnknown возвращается при заказе услуги, которой нет в прайс-листе.
	ErrServiceUnknown = errors.New("unknown service")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
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

// withRetry повторяет операцию при временных ошибках БД: сериализация, дедлоки, обрыв соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(1*time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
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

// CreateProfile создаёт новый профиль пользователя с нулевым балансом.
func (r *PostgresRepository) CreateProfile(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO profiles (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create profile: %w", err)
	}
	return id, nil
}

// GetProfileByLogin возвращает профиль по логину.
func (r *PostgresRepository) GetProfileByLogin(ctx context.Context, login string) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, balance, total_spent, created_at FROM profiles WHERE login = $1`,
		login,
	)

	var p model.Profile
	err := row.Scan(&p.ID, &p.Login, &p.PasswordHash, &p.Balance, &p.TotalSpent, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return &p, nil
}

// GetBalance возвращает баланс и суммарные траты пользователя в центах.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var balance, spent int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance, total_spent FROM profiles WHERE id = $1`,
		userID,
	).Scan(&balance, &spent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, spent, nil
}

// CreditBalance зачисляет платёж на баланс пользователя ровно один раз.
// Сначала фиксируется внешний идентификатор платежа в processed_payments
// (уникальный ключ по шлюзу и идентификатору), затем баланс увеличивается
// атомарным инкрементом на стороне БД. Повторная доставка того же платежа
// завершается ErrPaymentAlreadyProcessed без изменения баланса.
func (r *PostgresRepository) CreditBalance(ctx context.Context, gateway model.PaymentGateway, paymentID string, userID int64, amountCents int64) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO processed_payments (gateway, payment_id, user_id, amount) VALUES ($1, $2, $3, $4)`,
			string(gateway), paymentID, userID, amountCents,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s/%s", ErrPaymentAlreadyProcessed, gateway, paymentID)
			}
			return fmt.Errorf("insert processed payment: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE profiles SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			userID, amountCents,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("credit balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// CreateOrder списывает стоимость заказа с баланса и создаёт строку заказа
// в одной транзакции. Условие balance >= charge в UPDATE сериализует списания
// без явной блокировки строки.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var orderID int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE profiles SET balance = balance - $2, total_spent = total_spent + $2
			 WHERE id = $1 AND balance >= $2`,
			o.UserID, o.Charge,
		)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, o.UserID).Scan(&exists); err != nil {
				return fmt.Errorf("check profile: %w", err)
			}
			if !exists {
				return ErrUserNotFound
			}
			return ErrInsufficientBalance
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, service_id, link, quantity, charge, external_id, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			o.UserID, o.ServiceID, o.Link, o.Quantity, o.Charge, o.ExternalID, string(o.Status),
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return orderID, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, service_id, link, quantity, charge, external_id, status, remains, start_count, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.Charge,
			&o.ExternalID, &status, &o.Remains, &o.StartCount, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// OrderForSync описывает заказ, ожидающий обновления статуса у провайдера.
type OrderForSync struct {
	ID         int64
	ExternalID string
	Status     model.OrderStatus
}

// GetOrdersForSync возвращает заказы в нетерминальных статусах с назначенным
// внешним идентификатором — кандидаты на очередной цикл опроса провайдера.
func (r *PostgresRepository) GetOrdersForSync(ctx context.Context, limit int) ([]OrderForSync, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, external_id, status
		 FROM orders
		 WHERE status IN ($1, $2, $3) AND external_id IS NOT NULL
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.OrderStatusPending),
		string(model.OrderStatusProcessing),
		string(model.OrderStatusInProgress),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for sync: %w", err)
	}
	defer rows.Close()

	var res []OrderForSync
	for rows.Next() {
		var o OrderForSync
		var status string
		if err := rows.Scan(&o.ID, &o.ExternalID, &status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus обновляет статус заказа и счётчики доставки одной записью строки.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, remains, startCount *int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2,
		     remains = COALESCE($3, remains),
		     start_count = COALESCE($4, start_count)
		 WHERE id = $1`,
		orderID, string(status), remains, startCount,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	return nil
}

// GetServiceRate возвращает закупочную цену услуги у провайдера за 1000 единиц
// в центах. Прайс-лист ведётся на стороне сервера: цена из запроса клиента
// никогда не участвует в расчёте списания.
func (r *PostgresRepository) GetServiceRate(ctx context.Context, serviceID int64) (int64, error) {
	var rate int64
	err := r.pool.QueryRow(ctx,
		`SELECT rate FROM services WHERE id = $1`,
		serviceID,
	).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", ErrServiceUnknown, serviceID)
		}
		return 0, fmt.Errorf("get service rate: %w", err)
	}

	return rate, nil
}

// GetServiceConfig возвращает единственную строку конфигурации провайдера.
func (r *PostgresRepository) GetServiceConfig(ctx context.Context) (*model.ServiceConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT provider_url, provider_key, profit_margin FROM service_config WHERE id = 1`,
	)

	var cfg model.ServiceConfig
	err := row.Scan(&cfg.ProviderURL, &cfg.ProviderKey, &cfg.ProfitMargin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigMissing
		}
		return nil, fmt.Errorf("get service config: %w", err)
	}

	return &cfg, nil
}
