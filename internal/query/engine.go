package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/noot-app/allergen-scanner/internal/provider"
	"github.com/noot-app/allergen-scanner/internal/types"
)

// productColumns selects the fields the normalizer needs. Localized columns are
// rendered as JSON so both plain strings and [{lang,text}] lists can be decoded.
const productColumns = `
		code,
		to_json(product_name)::VARCHAR,
		CAST(brands AS VARCHAR),
		to_json(ingredients_text)::VARCHAR,
		to_json(allergens_tags)::VARCHAR`

// plainNameExpr matches dumps that store product_name as a plain string
const plainNameExpr = `CAST(product_name AS VARCHAR)`

// localizedNameExpr joins the text of every [{lang,text}] entry, so the lang
// tags and struct keys never take part in matching
const localizedNameExpr = `array_to_string(list_transform(product_name, x -> x['text']), ' ')`

// likeEscaper makes user input literal inside an ILIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Engine handles DuckDB queries against the parquet dataset
type Engine struct {
	db          *sql.DB
	parquetPath string
	pageSize    int
	log         *slog.Logger

	// nameExpr is resolved from the product_name column type on first search
	nameMu   sync.Mutex
	nameExpr string
}

// Ensure Engine implements Provider
var _ provider.Provider = (*Engine)(nil)

// NewEngine creates a new query engine over the parquet file at parquetPath
func NewEngine(parquetPath string, pageSize int, logger *slog.Logger) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	return &Engine{
		db:          db,
		parquetPath: parquetPath,
		pageSize:    pageSize,
		log:         logger,
	}, nil
}

// Close closes the database connection
func (e *Engine) Close() error {
	return e.db.Close()
}

// FetchByBarcode looks a product up by exact barcode
func (e *Engine) FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error) {
	start := time.Now()
	barcode = strings.TrimSpace(barcode)
	e.log.Debug("FetchByBarcode starting", "barcode", barcode)

	if barcode == "" {
		return nil, provider.ErrNotFound
	}

	query := `SELECT` + productColumns + `
		FROM read_parquet(?)
		WHERE code = ?
		LIMIT 1`

	rows, err := e.db.QueryContext(ctx, query, e.parquetPath, barcode)
	if err != nil {
		e.log.Error("DuckDB barcode query failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("barcode query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		e.log.Debug("No product found for barcode", "barcode", barcode, "duration", time.Since(start))
		return nil, provider.ErrNotFound
	}

	p, err := e.scanProduct(rows)
	if err != nil {
		e.log.Error("Row scan failed", "error", err)
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	resp := types.NewProductResponse(p)
	e.log.Info("FetchByBarcode completed", "found", true, "duration", time.Since(start))
	return &resp, nil
}

// SearchByName matches the query against product name or brand, ignoring case
func (e *Engine) SearchByName(ctx context.Context, name string) ([]types.ProductResponse, error) {
	start := time.Now()
	name = strings.TrimSpace(name)
	e.log.Debug("SearchByName starting", "name", name, "limit", e.pageSize)

	results := []types.ProductResponse{}
	if name == "" {
		return results, nil
	}

	nameExpr, err := e.productNameExpr(ctx)
	if err != nil {
		e.log.Error("DuckDB schema lookup failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("schema lookup failed: %w", err)
	}

	pattern := "%" + likeEscaper.Replace(name) + "%"
	query := `SELECT` + productColumns + `
		FROM read_parquet(?)
		WHERE ` + nameExpr + ` ILIKE ? ESCAPE '\' OR CAST(brands AS VARCHAR) ILIKE ? ESCAPE '\'
		LIMIT ?`

	rows, err := e.db.QueryContext(ctx, query, e.parquetPath, pattern, pattern, e.pageSize)
	if err != nil {
		e.log.Error("DuckDB query failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := e.scanProduct(rows)
		if err != nil {
			e.log.Error("Row scan failed", "error", err)
			continue
		}
		results = append(results, types.NewProductResponse(p))
	}

	if err := rows.Err(); err != nil {
		e.log.Error("Rows iteration failed", "error", err)
		return nil, fmt.Errorf("rows error: %w", err)
	}

	e.log.Info("SearchByName completed", "count", len(results), "duration", time.Since(start))
	return results, nil
}

// productNameExpr picks the SQL that yields searchable product name text for
// this dump. An empty dump falls back to the plain form.
func (e *Engine) productNameExpr(ctx context.Context) (string, error) {
	e.nameMu.Lock()
	defer e.nameMu.Unlock()

	if e.nameExpr != "" {
		return e.nameExpr, nil
	}

	var columnType string
	err := e.db.QueryRowContext(ctx, `SELECT typeof(product_name) FROM read_parquet(?) LIMIT 1`, e.parquetPath).Scan(&columnType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	e.nameExpr = plainNameExpr
	if strings.HasPrefix(columnType, "STRUCT") && strings.HasSuffix(columnType, "[]") {
		e.nameExpr = localizedNameExpr
	}
	e.log.Debug("Resolved product name expression", "column_type", columnType, "expr", e.nameExpr)
	return e.nameExpr, nil
}

// HealthCheck tests the database connection and parquet file access
func (e *Engine) HealthCheck(ctx context.Context) error {
	start := time.Now()
	e.log.Debug("Testing DuckDB connection and parquet file")

	var count int64
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_parquet(?)`, e.parquetPath).Scan(&count); err != nil {
		e.log.Error("Connection test failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("connection test failed: %w", err)
	}

	e.log.Info("Connection test successful", "total_records", count, "duration", time.Since(start))
	return nil
}

func (e *Engine) scanProduct(rows *sql.Rows) (types.Product, error) {
	var code, productName, brands, ingredientsText, allergensTags sql.NullString
	if err := rows.Scan(&code, &productName, &brands, &ingredientsText, &allergensTags); err != nil {
		return types.Product{}, err
	}

	p := types.Product{
		Code:            code.String,
		ProductName:     localizedText(productName),
		Brands:          brands.String,
		IngredientsText: localizedText(ingredientsText),
	}

	if allergensTags.Valid && allergensTags.String != "" && allergensTags.String != "null" {
		if err := json.Unmarshal([]byte(allergensTags.String), &p.AllergensTags); err != nil {
			e.log.Debug("Failed to parse allergens_tags JSON", "error", err, "code", p.Code)
		}
	}
	return p, nil
}

type localized struct {
	Lang string `json:"lang"`
	Text string `json:"text"`
}

// localizedText decodes a JSON string or a [{lang,text}] list, preferring the
// "main" entry, then "en", then the first non-empty text
func localizedText(raw sql.NullString) string {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return ""
	}

	var plain string
	if err := json.Unmarshal([]byte(raw.String), &plain); err == nil {
		return plain
	}

	var entries []localized
	if err := json.Unmarshal([]byte(raw.String), &entries); err != nil {
		return ""
	}

	for _, lang := range []string{"main", "en"} {
		for _, entry := range entries {
			if entry.Lang == lang && strings.TrimSpace(entry.Text) != "" {
				return entry.Text
			}
		}
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.Text) != "" {
			return entry.Text
		}
	}
	return ""
}
