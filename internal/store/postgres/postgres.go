package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tallybill/internal/domain"
	"tallybill/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	row_index      BIGSERIAL PRIMARY KEY,
	client_id      TEXT NOT NULL DEFAULT '',
	item           TEXT NOT NULL,
	brand          TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL DEFAULT '',
	size           TEXT NOT NULL DEFAULT '',
	color          TEXT NOT NULL DEFAULT '',
	stock          INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	price1         NUMERIC(14,2) NOT NULL DEFAULT 0,
	unit1          TEXT NOT NULL DEFAULT '',
	price2         NUMERIC(14,2) NOT NULL DEFAULT 0,
	unit2          TEXT NOT NULL DEFAULT '',
	purchase_price NUMERIC(14,2) NOT NULL DEFAULT 0,
	purchase_unit  TEXT NOT NULL DEFAULT '',
	party          TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS products_client_id_idx ON products (client_id) WHERE client_id <> '';

CREATE TABLE IF NOT EXISTS bills (
	bill_no       TEXT PRIMARY KEY,
	bill_date     TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	mobile        TEXT NOT NULL DEFAULT '',
	amount        NUMERIC(14,2) NOT NULL DEFAULT 0,
	items         JSONB NOT NULL DEFAULT '[]',
	stock_taken   JSONB NOT NULL DEFAULT '[]',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE bills ADD COLUMN IF NOT EXISTS stock_taken JSONB NOT NULL DEFAULT '[]';

CREATE TABLE IF NOT EXISTS applied_requests (
	request_id TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// rowMatch selects the product a client addresses either by row index or by
// the temporary marker it used before the row index was known.
const rowMatch = `(row_index::text = $1 OR (client_id <> '' AND client_id = $1))`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_index::text, client_id, item, brand, model, size, color, stock,
			price1, unit1, price2, unit2, purchase_price, purchase_unit, party
		FROM products
		ORDER BY row_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.RowIndex, &p.ID, &p.Item, &p.Brand, &p.Model, &p.Size, &p.Color, &p.Stock,
			&p.Price1, &p.Unit1, &p.Price2, &p.Unit2, &p.PurchasePrice, &p.PurchaseUnit, &p.Party); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) AddProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := p.Validate(); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidAction, err)
	}
	if p.IsTemporary() && p.ID == "" {
		p.ID = string(p.RowIndex)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (client_id, item, brand, model, size, color, stock,
			price1, unit1, price2, unit2, purchase_price, purchase_unit, party, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
		RETURNING row_index::text
	`, p.ID, p.Item, p.Brand, p.Model, p.Size, p.Color, int(p.Stock),
		p.Price1, p.Unit1, p.Price2, p.Unit2, p.PurchasePrice, p.PurchaseUnit, p.Party).Scan(&p.RowIndex)
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidAction, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET item = $2, brand = $3, model = $4, size = $5, color = $6, stock = $7,
			price1 = $8, unit1 = $9, price2 = $10, unit2 = $11,
			purchase_price = $12, purchase_unit = $13, party = $14, updated_at = now()
		WHERE `+rowMatch,
		string(p.RowIndex), p.Item, p.Brand, p.Model, p.Size, p.Color, int(p.Stock),
		p.Price1, p.Unit1, p.Price2, p.Unit2, p.PurchasePrice, p.PurchaseUnit, p.Party)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteProduct(ctx context.Context, row domain.RowID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE `+rowMatch, string(row))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ListBills(ctx context.Context) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_no, bill_date, customer_name, mobile, amount, items
		FROM bills
		ORDER BY created_at DESC, bill_no DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 128)
	for rows.Next() {
		var (
			b     domain.Bill
			items []byte
		)
		if err := rows.Scan(&b.BillNo, &b.Date, &b.CustomerName, &b.Mobile, &b.Amount, &items); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &b.Items); err != nil {
			return nil, fmt.Errorf("bill %s items: %w", b.BillNo, err)
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) ConfirmBill(ctx context.Context, draft domain.BillDraft) error {
	if draft.BillID == "" || len(draft.Items) == 0 {
		return fmt.Errorf("%w: bill number and items required", store.ErrInvalidAction)
	}
	items, err := json.Marshal(draft.Items)
	if err != nil {
		return err
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (bill_no, bill_date, customer_name, mobile, amount, items, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, draft.BillID, draft.Date, draft.CustomerName, draft.Mobile, draft.Total, items)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: bill %s already exists", store.ErrInvalidAction, draft.BillID)
		}
		return err
	}

	taken := make([]int, len(draft.Items))
	for i, line := range draft.Items {
		if taken[i], err = takeStock(ctx, pgTx, line.RowIndex, store.StockDelta(line)); err != nil {
			return err
		}
	}
	takenJSON, err := json.Marshal(taken)
	if err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `UPDATE bills SET stock_taken = $2 WHERE bill_no = $1`, draft.BillID, takenJSON); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) DeleteBill(ctx context.Context, billNo string) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback()
	}()

	var raw, rawTaken []byte
	err = pgTx.QueryRowContext(ctx, `SELECT items, stock_taken FROM bills WHERE bill_no = $1 FOR UPDATE`, billNo).Scan(&raw, &rawTaken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	var items domain.LineItems
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("bill %s items: %w", billNo, err)
	}
	var taken []int
	if err := json.Unmarshal(rawTaken, &taken); err != nil {
		return fmt.Errorf("bill %s stock taken: %w", billNo, err)
	}

	for i, line := range items {
		if err := restoreStock(ctx, pgTx, line.RowIndex, store.RestoreDelta(line, taken, i)); err != nil {
			return err
		}
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM bills WHERE bill_no = $1`, billNo); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) RequestSeen(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM applied_requests WHERE request_id = $1)`, requestID).Scan(&exists)
	return exists, err
}

func (s *Store) RecordRequest(ctx context.Context, requestID string, action domain.ActionName) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_requests (request_id, action, applied_at)
		VALUES ($1, $2, now())
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, string(action))
	return err
}

// takeStock removes up to want units from the product's stock and returns
// how many it removed. A missing product takes nothing.
func takeStock(ctx context.Context, tx *sql.Tx, row domain.RowID, want int) (int, error) {
	if row == "" || want <= 0 {
		return 0, nil
	}
	var taken int
	err := tx.QueryRowContext(ctx, `
		WITH target AS (
			SELECT row_index, stock FROM products WHERE `+rowMatch+` ORDER BY row_index LIMIT 1 FOR UPDATE
		)
		UPDATE products p
		SET stock = p.stock - LEAST(target.stock, $2), updated_at = now()
		FROM target
		WHERE p.row_index = target.row_index
		RETURNING LEAST(target.stock, $2)
	`, string(row), want).Scan(&taken)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return taken, err
}

func restoreStock(ctx context.Context, tx *sql.Tx, row domain.RowID, n int) error {
	if row == "" || n <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE `+rowMatch, string(row), n)
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
