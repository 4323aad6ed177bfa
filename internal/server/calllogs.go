package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// CallLogsHandler serves the backend call ledger.
type CallLogsHandler struct {
	Store *store.Store
}

func (h *CallLogsHandler) Register(g *echo.Group) {
	g.GET("/call-logs", h.list)
}

// CallLogView is one ledger row in the API response.
type CallLogView struct {
	ID             int64     `json:"id"`
	CategoryID     *int64    `json:"category_id,omitempty"`
	APIProvider    string    `json:"api_provider"`
	ModelName      string    `json:"model_name"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Cost           float64   `json:"cost"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *CallLogsHandler) list(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	logs, total, err := h.Store.ListCallLogs(c.Request().Context(), page, pageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]CallLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, CallLogView{
			ID:             l.ID,
			CategoryID:     l.CategoryID,
			APIProvider:    l.APIProvider,
			ModelName:      l.ModelName,
			InputTokens:    l.InputTokens,
			OutputTokens:   l.OutputTokens,
			Cost:           l.Cost,
			ResponseTimeMs: l.ResponseTimeMs,
			Status:         l.Status,
			ErrorMessage:   l.ErrorMessage,
			CreatedAt:      l.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"call_logs": views,
		"total":     total,
	})
}
