package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection used by every pipeline component.
type Store struct {
	DB *sql.DB
}

// New constructs the Store from DATABASE_URL or POSTGRES_* environment
// variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

const categoryColumns = `id, level1, level2, level3, full_path, is_processed,
price_ranges_generated, dimensions_generated, products_selected,
error_count, COALESCE(last_error,''), created_at, updated_at`

func scanCategory(row interface{ Scan(...interface{}) error }) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Level1, &c.Level2, &c.Level3, &c.FullPath, &c.IsProcessed,
		&c.PriceRangesGenerated, &c.DimensionsGenerated, &c.ProductsSelected,
		&c.ErrorCount, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCategory fetches one category. Bool indicates whether it exists.
func (s *Store) GetCategory(ctx context.Context, id int64) (Category, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id=$1`, id)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return Category{}, false, nil
	}
	if err != nil {
		return Category{}, false, err
	}
	return c, true, nil
}

// GetCategoriesByStage returns categories eligible for the work of the given
// stage, oldest first. Quarantined categories (error_count >= maxErrors)
// never appear. The dimension predicate requires price_ranges_generated and
// the selection predicate requires both upstream flags, so a category can
// only be offered work its inputs exist for.
func (s *Store) GetCategoriesByStage(ctx context.Context, stage Stage, limit, maxErrors int) ([]Category, error) {
	var predicate string
	switch stage {
	case StageNew:
		predicate = `price_ranges_generated=FALSE`
	case StagePriced:
		predicate = `price_ranges_generated=TRUE AND dimensions_generated=FALSE`
	case StageDimensioned:
		predicate = `price_ranges_generated=TRUE AND dimensions_generated=TRUE AND products_selected=FALSE`
	default:
		return nil, fmt.Errorf("no eligibility query for stage %q", stage)
	}
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE ` + predicate +
		` AND error_count < $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, q, maxErrors, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountEligible reports how many categories the stage query would match.
func (s *Store) CountEligible(ctx context.Context, stage Stage, maxErrors int) (int64, error) {
	var predicate string
	switch stage {
	case StageNew:
		predicate = `price_ranges_generated=FALSE`
	case StagePriced:
		predicate = `price_ranges_generated=TRUE AND dimensions_generated=FALSE`
	case StageDimensioned:
		predicate = `price_ranges_generated=TRUE AND dimensions_generated=TRUE AND products_selected=FALSE`
	default:
		return 0, fmt.Errorf("no eligibility query for stage %q", stage)
	}
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE `+predicate+` AND error_count < $1`, maxErrors).Scan(&n)
	return n, err
}

// CountPending reports unprocessed categories still below the error ceiling.
func (s *Store) CountPending(ctx context.Context, maxErrors int) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE is_processed=FALSE AND error_count < $1`, maxErrors).Scan(&n)
	return n, err
}

// ReplacePriceRanges atomically swaps the generated ranges of a category:
// old rows go, the new set goes in, and the stage flag flips, all in one
// transaction. A re-run therefore never leaves mixed generations behind.
func (s *Store) ReplacePriceRanges(ctx context.Context, categoryID int64, ranges []PriceRange) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_ranges WHERE category_id=$1`, categoryID); err != nil {
		return fmt.Errorf("delete old price ranges: %w", err)
	}
	for _, r := range ranges {
		_, err := tx.ExecContext(ctx, `
INSERT INTO price_ranges (category_id, range_name, min_price, max_price, range_order, description)
VALUES ($1,$2,$3,$4,$5,$6)`,
			categoryID, r.RangeName, r.MinPrice, r.MaxPrice, r.RangeOrder, r.Description)
		if err != nil {
			return fmt.Errorf("insert price range: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `
UPDATE categories SET price_ranges_generated=TRUE, updated_at=NOW() WHERE id=$1`, categoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d not found", categoryID)
	}
	return tx.Commit()
}

// ReplaceDimensions swaps the evaluation dimensions of a category and flips
// dimensions_generated. The UPDATE is guarded on price_ranges_generated so a
// category can never advance past a stage it has not completed.
func (s *Store) ReplaceDimensions(ctx context.Context, categoryID int64, dims []Dimension) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluation_dimensions WHERE category_id=$1`, categoryID); err != nil {
		return fmt.Errorf("delete old dimensions: %w", err)
	}
	for _, d := range dims {
		_, err := tx.ExecContext(ctx, `
INSERT INTO evaluation_dimensions (category_id, dimension_name, dimension_code, dimension_order, description, weight)
VALUES ($1,$2,$3,$4,$5,$6)`,
			categoryID, d.Name, d.Code, d.Order, d.Description, d.Weight)
		if err != nil {
			return fmt.Errorf("insert dimension: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `
UPDATE categories SET dimensions_generated=TRUE, updated_at=NOW()
WHERE id=$1 AND price_ranges_generated=TRUE`, categoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d is not in the priced stage", categoryID)
	}
	return tx.Commit()
}

// ListPriceRanges returns the ranges of a category ordered by range_order.
func (s *Store) ListPriceRanges(ctx context.Context, categoryID int64) ([]PriceRange, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, category_id, range_name, min_price, max_price, range_order, COALESCE(description,''), created_at
FROM price_ranges WHERE category_id=$1 ORDER BY range_order ASC`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PriceRange
	for rows.Next() {
		var r PriceRange
		if err := rows.Scan(&r.ID, &r.CategoryID, &r.RangeName, &r.MinPrice, &r.MaxPrice, &r.RangeOrder, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListDimensions returns the dimensions of a category ordered by dimension_order.
func (s *Store) ListDimensions(ctx context.Context, categoryID int64) ([]Dimension, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, category_id, dimension_name, dimension_code, dimension_order, COALESCE(description,''), weight, created_at
FROM evaluation_dimensions WHERE category_id=$1 ORDER BY dimension_order ASC`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dimension
	for rows.Next() {
		var d Dimension
		if err := rows.Scan(&d.ID, &d.CategoryID, &d.Name, &d.Code, &d.Order, &d.Description, &d.Weight, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertBestProduct appends one selected product row. Best products are
// never replaced in bulk; re-selection appends new rows for review.
func (s *Store) InsertBestProduct(ctx context.Context, p BestProduct) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO best_products (category_id, price_range_id, dimension_id, product_name, brand_name,
 company_name, product_model, price, selection_reason, confidence_score, data_sources,
 company_intro, company_founded_year, company_headquarters)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		p.CategoryID, p.PriceRangeID, p.DimensionID, p.ProductName, p.BrandName,
		p.CompanyName, p.ProductModel, p.Price, p.SelectionReason, p.ConfidenceScore, p.DataSources,
		p.CompanyIntro, p.CompanyFoundedYear, p.CompanyHQ).Scan(&id)
	return id, err
}

// ListBestProducts returns the selected products of a category, newest first.
func (s *Store) ListBestProducts(ctx context.Context, categoryID int64) ([]BestProduct, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, category_id, price_range_id, dimension_id, product_name, COALESCE(brand_name,''),
 COALESCE(company_name,''), COALESCE(product_model,''), price, selection_reason,
 confidence_score, COALESCE(data_sources,''), COALESCE(company_intro,''),
 company_founded_year, COALESCE(company_headquarters,''), status, created_at
FROM best_products WHERE category_id=$1 ORDER BY created_at DESC`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BestProduct
	for rows.Next() {
		var p BestProduct
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.PriceRangeID, &p.DimensionID, &p.ProductName, &p.BrandName,
			&p.CompanyName, &p.ProductModel, &p.Price, &p.SelectionReason,
			&p.ConfidenceScore, &p.DataSources, &p.CompanyIntro,
			&p.CompanyFoundedYear, &p.CompanyHQ, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkProductsSelected flips products_selected and is_processed for a
// category that finished the final stage. Guarded on the upstream flags.
func (s *Store) MarkProductsSelected(ctx context.Context, categoryID int64) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE categories SET products_selected=TRUE, is_processed=TRUE, updated_at=NOW()
WHERE id=$1 AND price_ranges_generated=TRUE AND dimensions_generated=TRUE`, categoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d is not in the dimensioned stage", categoryID)
	}
	return nil
}

// RecordCategoryFailure bumps error_count and records the message. Reaching
// the configured ceiling quarantines the category.
func (s *Store) RecordCategoryFailure(ctx context.Context, categoryID int64, msg string) error {
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE categories SET error_count=error_count+1, last_error=$2, updated_at=NOW() WHERE id=$1`,
		categoryID, msg)
	return err
}

// ResetCategoryErrors clears error_count and last_error, releasing a
// quarantined category back to the pipeline.
func (s *Store) ResetCategoryErrors(ctx context.Context, categoryID int64) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE categories SET error_count=0, last_error=NULL, updated_at=NOW() WHERE id=$1`, categoryID)
	return err
}

// InsertCallLog appends one ledger row for a backend call attempt.
func (s *Store) InsertCallLog(ctx context.Context, l CallLog) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO api_call_logs (category_id, api_provider, model_name, input_tokens, output_tokens,
 cost, response_time_ms, status, error_message)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.CategoryID, l.APIProvider, l.ModelName, l.InputTokens, l.OutputTokens,
		l.Cost, l.ResponseTimeMs, l.Status, nullIfEmpty(l.ErrorMessage))
	return err
}

// ListCallLogs returns a page of the ledger, newest first, plus the total count.
func (s *Store) ListCallLogs(ctx context.Context, page, pageSize int) ([]CallLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	var total int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_call_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, category_id, api_provider, model_name, input_tokens, output_tokens,
 cost, response_time_ms, status, COALESCE(error_message,''), created_at
FROM api_call_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		var l CallLog
		if err := rows.Scan(&l.ID, &l.CategoryID, &l.APIProvider, &l.ModelName, &l.InputTokens, &l.OutputTokens,
			&l.Cost, &l.ResponseTimeMs, &l.Status, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// GetStats aggregates the dashboard snapshot.
func (s *Store) GetStats(ctx context.Context, maxErrors int) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE price_ranges_generated),
       COUNT(*) FILTER (WHERE dimensions_generated),
       COUNT(*) FILTER (WHERE products_selected),
       COUNT(*) FILTER (WHERE is_processed),
       COUNT(*) FILTER (WHERE error_count >= $1)
FROM categories`, maxErrors).Scan(
		&st.TotalCategories, &st.PriceDone, &st.DimensionsDone,
		&st.ProductsDone, &st.Processed, &st.Quarantined)
	if err != nil {
		return Stats{}, err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM best_products`).Scan(&st.TotalProducts); err != nil {
		return Stats{}, err
	}
	err = s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(input_tokens+output_tokens),0), COALESCE(SUM(cost),0)
FROM api_call_logs`).Scan(&st.TotalCalls, &st.TotalTokens, &st.TotalCost)
	if err != nil {
		return Stats{}, err
	}
	err = s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(cost),0)
FROM api_call_logs WHERE created_at >= date_trunc('day', NOW())`).Scan(&st.TodayCalls, &st.TodayCost)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// TodayCost returns the ledger cost accumulated since local midnight.
func (s *Store) TodayCost(ctx context.Context) (float64, error) {
	var cost float64
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(cost),0) FROM api_call_logs WHERE created_at >= date_trunc('day', NOW())`).Scan(&cost)
	return cost, err
}

// ListCategories returns a filtered page of categories plus the total match count.
func (s *Store) ListCategories(ctx context.Context, f CategoryFilter) ([]Category, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 200 {
		f.PageSize = 50
	}
	var conds []string
	var args []interface{}
	switch f.Status {
	case "pending":
		conds = append(conds, `is_processed=FALSE`)
	case "processed":
		conds = append(conds, `is_processed=TRUE`)
	case "price_only":
		conds = append(conds, `price_ranges_generated=TRUE AND dimensions_generated=FALSE`)
	case "dimension_only":
		conds = append(conds, `dimensions_generated=TRUE AND products_selected=FALSE`)
	case "":
	default:
		return nil, 0, fmt.Errorf("unknown status filter %q", f.Status)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf(`full_path ILIKE $%d`, len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	q := fmt.Sprintf(`SELECT %s FROM categories%s ORDER BY id ASC LIMIT $%d OFFSET $%d`,
		categoryColumns, where, len(args)-1, len(args))
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ExportCategories streams every category for the export endpoints.
func (s *Store) ExportCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ImportCategories bulk loads taxonomy rows, skipping paths that already
// exist. Returns the number of rows inserted.
func (s *Store) ImportCategories(ctx context.Context, items []CategoryImport) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var inserted int64
	for _, it := range items {
		if it.Level1 == "" || it.Level2 == "" || it.Level3 == "" {
			continue
		}
		fullPath := it.Level1 + " > " + it.Level2 + " > " + it.Level3
		res, err := tx.ExecContext(ctx, `
INSERT INTO categories (level1, level2, level3, full_path)
VALUES ($1,$2,$3,$4) ON CONFLICT (full_path) DO NOTHING`,
			it.Level1, it.Level2, it.Level3, fullPath)
		if err != nil {
			return 0, fmt.Errorf("import %q: %w", fullPath, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
