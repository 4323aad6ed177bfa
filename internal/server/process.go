package server

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/DoublePerpetual/BestGoods/internal/scheduler"
	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// PipelineRunner is the slice of the scheduler the trigger endpoints use.
type PipelineRunner interface {
	ProcessStageBatch(ctx context.Context, stage store.Stage, batch int) (processed, failed int, err error)
	RunFullPipeline(ctx context.Context) (scheduler.Report, error)
	ProcessCategory(ctx context.Context, id int64, action string) error
}

// ProcessHandler exposes operator-triggered pipeline runs. Runs execute in
// the background; the response carries a job id for log correlation.
type ProcessHandler struct {
	Runner PipelineRunner
	Logger *log.Logger
}

func (h *ProcessHandler) Register(g *echo.Group) {
	if h.Logger == nil {
		h.Logger = log.New(log.Writer(), "[JOBS] ", log.LstdFlags)
	}
	g.POST("/process/batch", h.batch)
	g.POST("/process/category", h.category)
}

type batchRequest struct {
	Stage     string `json:"stage"`
	BatchSize int    `json:"batch_size"`
}

var stageByName = map[string]store.Stage{
	"price":     store.StageNew,
	"dimension": store.StagePriced,
	"product":   store.StageDimensioned,
}

func (h *ProcessHandler) batch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	jobID := uuid.NewString()
	if req.Stage == "" || req.Stage == "all" {
		go func() {
			rep, err := h.Runner.RunFullPipeline(context.Background())
			if err != nil {
				h.Logger.Printf("job %s: full pipeline failed: %v", jobID, err)
				return
			}
			h.Logger.Printf("job %s: full pipeline done, %d categories touched", jobID, rep.Total())
		}()
		return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "stage": "all"})
	}

	stage, ok := stageByName[req.Stage]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown stage: "+req.Stage)
	}
	go func() {
		processed, failed, err := h.Runner.ProcessStageBatch(context.Background(), stage, req.BatchSize)
		if err != nil {
			h.Logger.Printf("job %s: stage %s failed: %v", jobID, req.Stage, err)
			return
		}
		h.Logger.Printf("job %s: stage %s done, processed=%d failed=%d", jobID, req.Stage, processed, failed)
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "stage": req.Stage})
}

type categoryRequest struct {
	CategoryID int64  `json:"category_id"`
	Action     string `json:"action"`
}

func (h *ProcessHandler) category(c echo.Context) error {
	var req categoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CategoryID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "category_id is required")
	}
	if req.Action == "" {
		req.Action = "all"
	}
	if _, ok := stageByName[req.Action]; !ok && req.Action != "all" {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action: "+req.Action)
	}

	jobID := uuid.NewString()
	go func() {
		if err := h.Runner.ProcessCategory(context.Background(), req.CategoryID, req.Action); err != nil {
			h.Logger.Printf("job %s: category %d action %s failed: %v", jobID, req.CategoryID, req.Action, err)
			return
		}
		h.Logger.Printf("job %s: category %d action %s done", jobID, req.CategoryID, req.Action)
	}()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id":      jobID,
		"category_id": req.CategoryID,
		"action":      req.Action,
	})
}
