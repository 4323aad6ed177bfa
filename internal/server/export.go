package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// ExportHandler streams the full category table as JSON or CSV.
type ExportHandler struct {
	Store *store.Store
}

func (h *ExportHandler) Register(g *echo.Group) {
	g.GET("/export/categories", h.categories)
}

func (h *ExportHandler) categories(c echo.Context) error {
	cats, err := h.Store.ExportCategories(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	format := c.QueryParam("format")
	switch format {
	case "", "json":
		return c.JSON(http.StatusOK, cats)
	case "csv":
		c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="categories.csv"`)
		c.Response().WriteHeader(http.StatusOK)
		w := csv.NewWriter(c.Response())
		header := []string{"id", "level1", "level2", "level3", "full_path",
			"is_processed", "price_ranges_generated", "dimensions_generated",
			"products_selected", "error_count", "last_error"}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, cat := range cats {
			row := []string{
				strconv.FormatInt(cat.ID, 10),
				cat.Level1, cat.Level2, cat.Level3, cat.FullPath,
				strconv.FormatBool(cat.IsProcessed),
				strconv.FormatBool(cat.PriceRangesGenerated),
				strconv.FormatBool(cat.DimensionsGenerated),
				strconv.FormatBool(cat.ProductsSelected),
				strconv.Itoa(cat.ErrorCount),
				cat.LastError,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}
