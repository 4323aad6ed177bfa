package server

import (
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// CategoriesHandler serves the category listing and drill-down views.
type CategoriesHandler struct {
	Store     *store.Store
	MaxErrors int
}

func (h *CategoriesHandler) Register(g *echo.Group) {
	g.GET("/categories", h.list)
	g.GET("/categories/:id", h.detail)
}

// CategoryView is one category row in listing and detail responses.
type CategoryView struct {
	ID                   int64  `json:"id"`
	Level1               string `json:"level1"`
	Level2               string `json:"level2"`
	Level3               string `json:"level3"`
	FullPath             string `json:"full_path"`
	Stage                string `json:"stage"`
	IsProcessed          bool   `json:"is_processed"`
	PriceRangesGenerated bool   `json:"price_ranges_generated"`
	DimensionsGenerated  bool   `json:"dimensions_generated"`
	ProductsSelected     bool   `json:"products_selected"`
	ErrorCount           int    `json:"error_count"`
	LastError            string `json:"last_error,omitempty"`
}

func (h *CategoriesHandler) view(c store.Category) CategoryView {
	return CategoryView{
		ID:                   c.ID,
		Level1:               c.Level1,
		Level2:               c.Level2,
		Level3:               c.Level3,
		FullPath:             c.FullPath,
		Stage:                string(c.Stage(h.MaxErrors)),
		IsProcessed:          c.IsProcessed,
		PriceRangesGenerated: c.PriceRangesGenerated,
		DimensionsGenerated:  c.DimensionsGenerated,
		ProductsSelected:     c.ProductsSelected,
		ErrorCount:           c.ErrorCount,
		LastError:            c.LastError,
	}
}

func (h *CategoriesHandler) list(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	filter := store.CategoryFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   c.QueryParam("status"),
		Search:   c.QueryParam("search"),
	}
	cats, total, err := h.Store.ListCategories(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	views := make([]CategoryView, 0, len(cats))
	for _, cat := range cats {
		views = append(views, h.view(cat))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"categories": views,
		"total":      total,
		"page":       max(filter.Page, 1),
	})
}

// BestProductView is one selected product in the detail response. The
// rationale is truncated for listing purposes.
type BestProductView struct {
	ID              int64    `json:"id"`
	PriceRangeID    int64    `json:"price_range_id"`
	DimensionID     int64    `json:"dimension_id"`
	ProductName     string   `json:"product_name"`
	BrandName       string   `json:"brand_name"`
	ProductModel    string   `json:"product_model,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	SelectionReason string   `json:"selection_reason"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Status          string   `json:"status"`
}

func (h *CategoriesHandler) detail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid category id")
	}
	ctx := c.Request().Context()
	cat, ok, err := h.Store.GetCategory(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "category not found")
	}
	ranges, err := h.Store.ListPriceRanges(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	dims, err := h.Store.ListDimensions(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	products, err := h.Store.ListBestProducts(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	productViews := make([]BestProductView, 0, len(products))
	for _, p := range products {
		productViews = append(productViews, BestProductView{
			ID:              p.ID,
			PriceRangeID:    p.PriceRangeID,
			DimensionID:     p.DimensionID,
			ProductName:     p.ProductName,
			BrandName:       p.BrandName,
			ProductModel:    p.ProductModel,
			Price:           p.Price,
			SelectionReason: truncateRunes(p.SelectionReason, 200),
			ConfidenceScore: p.ConfidenceScore,
			Status:          p.Status,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"category":      h.view(cat),
		"price_ranges":  ranges,
		"dimensions":    dims,
		"best_products": productViews,
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
