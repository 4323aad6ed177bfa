package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// PriceRangeStore is the slice of the store the price range stage writes to.
type PriceRangeStore interface {
	ReplacePriceRanges(ctx context.Context, categoryID int64, ranges []store.PriceRange) error
	RecordCategoryFailure(ctx context.Context, categoryID int64, msg string) error
}

// PriceRangeEngine generates the price bands of a category, the first
// pipeline stage.
type PriceRangeEngine struct {
	caller *Caller
	store  PriceRangeStore
	retry  Policy
	logger *log.Logger
}

func NewPriceRangeEngine(caller *Caller, st PriceRangeStore, retry Policy) *PriceRangeEngine {
	return &PriceRangeEngine{
		caller: caller,
		store:  st,
		retry:  retry,
		logger: log.New(log.Writer(), "[PRICE] ", log.LstdFlags),
	}
}

type priceRangeItem struct {
	Level       string   `json:"level"`
	MinPrice    float64  `json:"min_price"`
	MaxPrice    *float64 `json:"max_price"`
	Order       int      `json:"order"`
	Description string   `json:"description"`
}

type priceRangePayload struct {
	CategoryName string           `json:"category_name"`
	RangeCount   int              `json:"range_count"`
	PriceRanges  []priceRangeItem `json:"price_ranges"`
}

func (p *priceRangePayload) validate() error {
	if len(p.PriceRanges) == 0 {
		return fmt.Errorf("price_ranges is empty")
	}
	if p.RangeCount == 0 {
		return fmt.Errorf("range_count is missing")
	}
	for i, r := range p.PriceRanges {
		if r.Level == "" {
			return fmt.Errorf("price range %d has no level name", i)
		}
		if r.MinPrice < 0 {
			return fmt.Errorf("price range %q has negative min_price", r.Level)
		}
		if r.MaxPrice != nil && *r.MaxPrice <= r.MinPrice {
			return fmt.Errorf("price range %q has max_price <= min_price", r.Level)
		}
	}
	return nil
}

// Process generates and persists the price ranges of one category. Terminal
// failures bump the category's error count and keep the stage flag down so
// a later batch can retry it.
func (e *PriceRangeEngine) Process(ctx context.Context, cat store.Category) error {
	e.logger.Printf("generating price ranges: %s (id=%d)", cat.FullPath, cat.ID)

	var payload priceRangePayload
	err := e.retry.Do(ctx, "generate price ranges", func() error {
		comp, err := e.caller.Call(ctx, &cat.ID, priceRangeSystemPrompt, priceRangeUserPrompt(cat.Level3))
		if err != nil {
			return err
		}
		payload = priceRangePayload{}
		return decodeAndValidate(comp.Content, &payload, payload.validate)
	})
	if err != nil {
		msg := failureMessage(err)
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, msg); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return err
	}

	ranges := make([]store.PriceRange, 0, len(payload.PriceRanges))
	for i, r := range payload.PriceRanges {
		order := r.Order
		if order == 0 {
			order = i + 1
		}
		ranges = append(ranges, store.PriceRange{
			CategoryID:  cat.ID,
			RangeName:   r.Level,
			MinPrice:    r.MinPrice,
			MaxPrice:    r.MaxPrice,
			RangeOrder:  order,
			Description: r.Description,
		})
	}
	if err := e.store.ReplacePriceRanges(ctx, cat.ID, ranges); err != nil {
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, err.Error()); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return fmt.Errorf("persist price ranges: %w", err)
	}

	e.logger.Printf("saved %d price ranges for %s", len(ranges), cat.Level3)
	return nil
}

// failureMessage renders a terminal engine error for last_error, appending
// a snippet of the raw payload when decoding was the problem.
func failureMessage(err error) string {
	var se *SchemaError
	if errors.As(err, &se) && se.Raw != "" {
		raw := se.Raw
		if len(raw) > 500 {
			raw = raw[:500]
		}
		return fmt.Sprintf("%v; raw payload: %s", err, raw)
	}
	return err.Error()
}
