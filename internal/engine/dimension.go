package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// DimensionStore is the slice of the store the dimension stage writes to.
type DimensionStore interface {
	ReplaceDimensions(ctx context.Context, categoryID int64, dims []store.Dimension) error
	RecordCategoryFailure(ctx context.Context, categoryID int64, msg string) error
}

// DimensionEngine generates the evaluation dimensions of a category, the
// second pipeline stage.
type DimensionEngine struct {
	caller *Caller
	store  DimensionStore
	retry  Policy
	logger *log.Logger
}

func NewDimensionEngine(caller *Caller, st DimensionStore, retry Policy) *DimensionEngine {
	return &DimensionEngine{
		caller: caller,
		store:  st,
		retry:  retry,
		logger: log.New(log.Writer(), "[DIMENSION] ", log.LstdFlags),
	}
}

type dimensionItem struct {
	Name        string  `json:"name"`
	Code        string  `json:"code"`
	Order       int     `json:"order"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

type dimensionPayload struct {
	CategoryName   string          `json:"category_name"`
	DimensionCount int             `json:"dimension_count"`
	Dimensions     []dimensionItem `json:"dimensions"`
}

func (p *dimensionPayload) validate() error {
	if len(p.Dimensions) == 0 {
		return fmt.Errorf("dimensions is empty")
	}
	if p.DimensionCount == 0 {
		return fmt.Errorf("dimension_count is missing")
	}
	seen := make(map[string]bool, len(p.Dimensions))
	for i, d := range p.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("dimension %d has no name", i)
		}
		if d.Code == "" {
			return fmt.Errorf("dimension %q has no code", d.Name)
		}
		if seen[d.Code] {
			return fmt.Errorf("duplicate dimension code %q", d.Code)
		}
		seen[d.Code] = true
	}
	return nil
}

// Process generates and persists the evaluation dimensions of one category.
func (e *DimensionEngine) Process(ctx context.Context, cat store.Category) error {
	e.logger.Printf("generating dimensions: %s (id=%d)", cat.FullPath, cat.ID)

	var payload dimensionPayload
	err := e.retry.Do(ctx, "generate dimensions", func() error {
		comp, err := e.caller.Call(ctx, &cat.ID, dimensionSystemPrompt, dimensionUserPrompt(cat.Level3))
		if err != nil {
			return err
		}
		payload = dimensionPayload{}
		return decodeAndValidate(comp.Content, &payload, payload.validate)
	})
	if err != nil {
		msg := failureMessage(err)
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, msg); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return err
	}

	dims := make([]store.Dimension, 0, len(payload.Dimensions))
	for i, d := range payload.Dimensions {
		order := d.Order
		if order == 0 {
			order = i + 1
		}
		weight := d.Weight
		if weight <= 0 {
			weight = 1.0
		}
		dims = append(dims, store.Dimension{
			CategoryID:  cat.ID,
			Name:        d.Name,
			Code:        d.Code,
			Order:       order,
			Description: d.Description,
			Weight:      weight,
		})
	}
	if err := e.store.ReplaceDimensions(ctx, cat.ID, dims); err != nil {
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, err.Error()); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return fmt.Errorf("persist dimensions: %w", err)
	}

	e.logger.Printf("saved %d dimensions for %s", len(dims), cat.Level3)
	return nil
}
