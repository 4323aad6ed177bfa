package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

func TestStatsHandler(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &StatsHandler{Store: &store.Store{DB: db}, MaxErrors: 3}

	mock.ExpectQuery(`FROM categories`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"count", "price", "dims", "prods", "proc", "quar"}).
			AddRow(100, 60, 40, 25, 25, 5))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM best_products`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(480))
	mock.ExpectQuery(`FROM api_call_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "tokens", "cost"}).AddRow(900, 1500000, 3.0))
	mock.ExpectQuery(`WHERE created_at >= date_trunc`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "cost"}).AddRow(120, 0.42))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.stats(ctx); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalCategories != 100 || resp.Quarantined != 5 || resp.TodayCost != 0.42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Progress != 25.0 {
		t.Fatalf("expected progress 25.0, got %f", resp.Progress)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
