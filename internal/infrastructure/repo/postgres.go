package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"storefront/internal/domain"
)

// Postgres owns the connection and hands out one repo per record type.
type Postgres struct {
	db *sql.DB

	Orders           *PostgresOrderRepo
	Products         *PostgresProductRepo
	Carts            *PostgresCartRepo
	Terminals        *PostgresTerminalRepo
	TerminalPayments *PostgresTerminalPaymentRepo
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{
		db:               db,
		Orders:           &PostgresOrderRepo{db: db},
		Products:         &PostgresProductRepo{db: db},
		Carts:            &PostgresCartRepo{db: db},
		Terminals:        &PostgresTerminalRepo{db: db},
		TerminalPayments: &PostgresTerminalPaymentRepo{db: db},
	}
	if err := p.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			items TEXT NOT NULL,
			subtotal BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_details TEXT,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (status, created_at);`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price BIGINT NOT NULL,
			currency TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cart_lines (
			session_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INT NOT NULL,
			position SERIAL,
			PRIMARY KEY (session_id, product_id)
		);`,
		`CREATE TABLE IF NOT EXISTS terminals (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL,
			status TEXT NOT NULL,
			last_seen_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS terminal_payments (
			payment_id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			terminal_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			wallet_request_id TEXT UNIQUE,
			qr_code_url TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type PostgresOrderRepo struct {
	db *sql.DB
}

const orderColumns = `id,user_id,items,subtotal,currency,provider,status,payment_details,failure_reason,created_at,updated_at`

func (r *PostgresOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	items, pd, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.UserID, items, o.Subtotal, o.Currency, string(o.Provider), string(o.Status), pd, o.FailureReason, o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.NewDomainError(domain.ErrorCodeOrderConflict, fmt.Sprintf("order %s already exists", o.ID))
	}
	return err
}

func (r *PostgresOrderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// Update writes o only while the stored status still equals expected.
func (r *PostgresOrderRepo) Update(ctx context.Context, o *domain.Order, expected domain.OrderStatus) error {
	items, pd, err := encodeOrder(o)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET user_id=$2,items=$3,subtotal=$4,status=$5,payment_details=$6,failure_reason=$7,updated_at=$8
		WHERE id=$1 AND status=$9`,
		o.ID, o.UserID, items, o.Subtotal, string(o.Status), pd, o.FailureReason, o.UpdatedAt, string(expected))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var cur string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id=$1`, o.ID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		return domain.NewDomainError(domain.ErrorCodeOrderConflict,
			fmt.Sprintf("order %s is %s, expected %s", o.ID, cur, expected))
	}
	return nil
}

func (r *PostgresOrderRepo) List(ctx context.Context, page, pageSize int) ([]domain.Order, int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresOrderRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		string(domain.OrderPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func encodeOrder(o *domain.Order) (string, sql.NullString, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return "", sql.NullString{}, err
	}
	var pd sql.NullString
	if o.PaymentDetails != nil {
		raw, err := json.Marshal(o.PaymentDetails)
		if err != nil {
			return "", sql.NullString{}, err
		}
		pd = sql.NullString{String: string(raw), Valid: true}
	}
	return string(items), pd, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o     domain.Order
		items string
		pd    sql.NullString
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &o.Subtotal, &o.Currency, (*string)(&o.Provider), (*string)(&o.Status),
		&pd, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	if pd.Valid {
		o.PaymentDetails = &domain.PaymentDetails{}
		if err := json.Unmarshal([]byte(pd.String), o.PaymentDetails); err != nil {
			return nil, fmt.Errorf("order %s payment details: %w", o.ID, err)
		}
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type PostgresProductRepo struct {
	db *sql.DB
}

func (r *PostgresProductRepo) Put(ctx context.Context, p domain.Product) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO products (id,name,price,currency) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=$2,price=$3,currency=$4`,
		p.ID, p.Name, p.Price, p.Currency)
	return err
}

func (r *PostgresProductRepo) Get(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx, `SELECT id,name,price,currency FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError(domain.ErrorCodeProductNotFound, fmt.Sprintf("product %s not found", id)).
			WithDetail("productId", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,name,price,currency FROM products ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Currency); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type PostgresCartRepo struct {
	db *sql.DB
}

func (r *PostgresCartRepo) Get(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT product_id,quantity FROM cart_lines WHERE session_id=$1 ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresCartRepo) Add(ctx context.Context, sessionID string, line domain.CartLine) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO cart_lines (session_id,product_id,quantity) VALUES ($1,$2,$3)
		ON CONFLICT (session_id,product_id) DO UPDATE SET quantity=cart_lines.quantity+EXCLUDED.quantity`,
		sessionID, line.ProductID, line.Quantity)
	return err
}

func (r *PostgresCartRepo) Clear(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE session_id=$1`, sessionID)
	return err
}

type PostgresTerminalRepo struct {
	db *sql.DB
}

func (r *PostgresTerminalRepo) Put(ctx context.Context, t domain.Terminal) error {
	var seen sql.NullTime
	if !t.LastSeenAt.IsZero() {
		seen = sql.NullTime{Time: t.LastSeenAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO terminals (id,store_id,name,api_key,status,last_seen_at) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET store_id=$2,name=$3,api_key=$4,status=$5,last_seen_at=$6`,
		t.ID, t.StoreID, t.Name, t.APIKey, string(t.Status), seen)
	return err
}

func (r *PostgresTerminalRepo) Get(ctx context.Context, id string) (*domain.Terminal, error) {
	var (
		t    domain.Terminal
		seen sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT id,store_id,name,api_key,status,last_seen_at FROM terminals WHERE id=$1`, id).
		Scan(&t.ID, &t.StoreID, &t.Name, &t.APIKey, (*string)(&t.Status), &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTerminalNotFound
	}
	if err != nil {
		return nil, err
	}
	t.LastSeenAt = seen.Time
	return &t, nil
}

func (r *PostgresTerminalRepo) SetStatus(ctx context.Context, id string, status domain.TerminalStatus, seenAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE terminals SET status=$2,last_seen_at=$3 WHERE id=$1`, id, string(status), seenAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTerminalNotFound
	}
	return nil
}

type PostgresTerminalPaymentRepo struct {
	db *sql.DB
}

const terminalPaymentColumns = `payment_id,store_id,terminal_id,amount,currency,reference,status,wallet_request_id,qr_code_url,expires_at,created_at,updated_at`

func (r *PostgresTerminalPaymentRepo) Create(ctx context.Context, p *domain.TerminalPayment) error {
	var expires sql.NullTime
	if !p.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: p.ExpiresAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO terminal_payments (`+terminalPaymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.PaymentID, p.StoreID, p.TerminalID, p.Amount, p.Currency, p.Reference, string(p.Status),
		nullString(p.WalletRequestID), p.QRCodeURL, expires, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.NewDomainError(domain.ErrorCodeOrderConflict, fmt.Sprintf("terminal payment %s already exists", p.PaymentID))
	}
	return err
}

func (r *PostgresTerminalPaymentRepo) Get(ctx context.Context, id string) (*domain.TerminalPayment, error) {
	return r.getBy(ctx, "payment_id", id)
}

func (r *PostgresTerminalPaymentRepo) GetByWalletRequest(ctx context.Context, requestID string) (*domain.TerminalPayment, error) {
	return r.getBy(ctx, "wallet_request_id", requestID)
}

func (r *PostgresTerminalPaymentRepo) getBy(ctx context.Context, column, value string) (*domain.TerminalPayment, error) {
	p, err := scanTerminalPayment(r.db.QueryRowContext(ctx, `SELECT `+terminalPaymentColumns+` FROM terminal_payments WHERE `+column+`=$1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

func (r *PostgresTerminalPaymentRepo) CompareAndSetStatus(ctx context.Context, id string, from, to domain.TerminalPaymentStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE terminal_payments SET status=$3,updated_at=$4 WHERE payment_id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM terminal_payments WHERE payment_id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrPaymentNotFound
	}
	return false, nil
}

func (r *PostgresTerminalPaymentRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.TerminalPayment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+terminalPaymentColumns+` FROM terminal_payments
		WHERE status=$1 AND expires_at IS NOT NULL AND expires_at < $2 ORDER BY expires_at ASC LIMIT $3`,
		string(domain.TerminalPaymentPending), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TerminalPayment
	for rows.Next() {
		p, err := scanTerminalPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanTerminalPayment(row rowScanner) (*domain.TerminalPayment, error) {
	var (
		p       domain.TerminalPayment
		reqID   sql.NullString
		expires sql.NullTime
	)
	err := row.Scan(&p.PaymentID, &p.StoreID, &p.TerminalID, &p.Amount, &p.Currency, &p.Reference, (*string)(&p.Status),
		&reqID, &p.QRCodeURL, &expires, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.WalletRequestID = reqID.String
	p.ExpiresAt = expires.Time
	return &p, nil
}
