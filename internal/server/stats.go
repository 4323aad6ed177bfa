package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// StatsHandler serves the dashboard aggregate.
type StatsHandler struct {
	Store     *store.Store
	MaxErrors int
}

func (h *StatsHandler) Register(g *echo.Group) {
	g.GET("/stats", h.stats)
}

// StatsResponse is the dashboard aggregate payload.
type StatsResponse struct {
	TotalCategories int64   `json:"total_categories"`
	Processed       int64   `json:"processed"`
	Progress        float64 `json:"progress"`
	PriceRangesDone int64   `json:"price_ranges_done"`
	DimensionsDone  int64   `json:"dimensions_done"`
	ProductsDone    int64   `json:"products_done"`
	Quarantined     int64   `json:"quarantined"`
	TotalProducts   int64   `json:"total_products"`
	TotalCalls      int64   `json:"total_calls"`
	TotalTokens     int64   `json:"total_tokens"`
	TotalCost       float64 `json:"total_cost"`
	TodayCalls      int64   `json:"today_calls"`
	TodayCost       float64 `json:"today_cost"`
}

func (h *StatsHandler) stats(c echo.Context) error {
	st, err := h.Store.GetStats(c.Request().Context(), h.MaxErrors)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := StatsResponse{
		TotalCategories: st.TotalCategories,
		Processed:       st.Processed,
		PriceRangesDone: st.PriceDone,
		DimensionsDone:  st.DimensionsDone,
		ProductsDone:    st.ProductsDone,
		Quarantined:     st.Quarantined,
		TotalProducts:   st.TotalProducts,
		TotalCalls:      st.TotalCalls,
		TotalTokens:     st.TotalTokens,
		TotalCost:       st.TotalCost,
		TodayCalls:      st.TodayCalls,
		TodayCost:       st.TodayCost,
	}
	if st.TotalCategories > 0 {
		resp.Progress = float64(st.Processed) / float64(st.TotalCategories) * 100
	}
	return c.JSON(http.StatusOK, resp)
}
