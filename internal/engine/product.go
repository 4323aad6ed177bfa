package engine

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// ProductStore is the slice of the store the selection stage works with.
type ProductStore interface {
	ListPriceRanges(ctx context.Context, categoryID int64) ([]store.PriceRange, error)
	ListDimensions(ctx context.Context, categoryID int64) ([]store.Dimension, error)
	InsertBestProduct(ctx context.Context, p store.BestProduct) (int64, error)
	MarkProductsSelected(ctx context.Context, categoryID int64) error
	RecordCategoryFailure(ctx context.Context, categoryID int64, msg string) error
}

// minReasonLength is the expected length of a selection rationale. Shorter
// rationales are kept but annotated so reviewers can spot them.
const minReasonLength = 300

const shortReasonNote = "（注：建议补充更多详细评选依据）"

// ProductEngine runs the final stage: one selection call per
// (price range, dimension) pair, appending a best product row per success.
type ProductEngine struct {
	caller *Caller
	store  ProductStore
	retry  Policy
	pacing time.Duration
	logger *log.Logger
}

// NewProductEngine builds the selection engine. pacing is the pause between
// consecutive pair selections.
func NewProductEngine(caller *Caller, st ProductStore, retry Policy, pacing time.Duration) *ProductEngine {
	return &ProductEngine{
		caller: caller,
		store:  st,
		retry:  retry,
		pacing: pacing,
		logger: log.New(log.Writer(), "[PRODUCT] ", log.LstdFlags),
	}
}

type productPayload struct {
	ProductName         string   `json:"product_name"`
	BrandName           string   `json:"brand_name"`
	CompanyName         string   `json:"company_name"`
	CompanyIntro        string   `json:"company_intro"`
	CompanyFoundedYear  *int     `json:"company_founded_year"`
	CompanyHeadquarters string   `json:"company_headquarters"`
	ProductModel        string   `json:"product_model"`
	Price               *float64 `json:"price"`
	PriceRangeLevel     string   `json:"price_range_level"`
	DimensionName       string   `json:"dimension_name"`
	SelectionReason     string   `json:"selection_reason"`
	ConfidenceScore     *float64 `json:"confidence_score"`
	DataSources         string   `json:"data_sources"`
}

func (p *productPayload) validate() error {
	if p.ProductName == "" {
		return fmt.Errorf("missing product_name")
	}
	if p.BrandName == "" {
		return fmt.Errorf("missing brand_name")
	}
	if p.SelectionReason == "" {
		return fmt.Errorf("missing selection_reason")
	}
	return nil
}

// Process selects one best product per (price range, dimension) pair of an
// already priced and dimensioned category. Individual pair failures do not
// abort the round; a round with at least one success completes the
// category, a round with zero successes counts as a stage failure.
func (e *ProductEngine) Process(ctx context.Context, cat store.Category) error {
	e.logger.Printf("selecting products: %s (id=%d)", cat.FullPath, cat.ID)

	ranges, err := e.store.ListPriceRanges(ctx, cat.ID)
	if err != nil {
		return fmt.Errorf("load price ranges: %w", err)
	}
	dims, err := e.store.ListDimensions(ctx, cat.ID)
	if err != nil {
		return fmt.Errorf("load dimensions: %w", err)
	}
	if len(ranges) == 0 || len(dims) == 0 {
		msg := fmt.Sprintf("selection inputs missing: %d price ranges, %d dimensions", len(ranges), len(dims))
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, msg); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return fmt.Errorf("%s", msg)
	}

	total := len(ranges) * len(dims)
	e.logger.Printf("%d selections to run for %s", total, cat.Level3)

	var attempted, successes int
	var lastErr error
	for _, pr := range ranges {
		for _, dim := range dims {
			attempted++
			if err := e.selectPair(ctx, cat, pr, dim); err != nil {
				lastErr = err
				e.logger.Printf("selection failed [%s x %s]: %v", pr.RangeName, dim.Name, err)
			} else {
				successes++
			}

			// Pacing follows every pair, success or not.
			if e.pacing > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(e.pacing):
				}
			}
		}
	}

	if successes == 0 {
		msg := fmt.Sprintf("all %d selections failed", attempted)
		if lastErr != nil {
			msg = fmt.Sprintf("%s; last error: %s", msg, failureMessage(lastErr))
		}
		if ferr := e.store.RecordCategoryFailure(ctx, cat.ID, msg); ferr != nil {
			e.logger.Printf("failed to record category failure: %v", ferr)
		}
		return fmt.Errorf("%s", msg)
	}

	if err := e.store.MarkProductsSelected(ctx, cat.ID); err != nil {
		return fmt.Errorf("mark products selected: %w", err)
	}
	e.logger.Printf("selected %d/%d products for %s", successes, total, cat.Level3)
	return nil
}

func (e *ProductEngine) selectPair(ctx context.Context, cat store.Category, pr store.PriceRange, dim store.Dimension) error {
	user := productUserPrompt(cat.Level3, pr.RangeName, pr.MinPrice, pr.MaxPrice, pr.Description, dim.Name, dim.Description)

	var payload productPayload
	err := e.retry.Do(ctx, "select best product", func() error {
		comp, err := e.caller.Call(ctx, &cat.ID, productSystemPrompt, user)
		if err != nil {
			return err
		}
		payload = productPayload{}
		return decodeAndValidate(comp.Content, &payload, payload.validate)
	})
	if err != nil {
		return err
	}

	reason := payload.SelectionReason
	if utf8.RuneCountInString(reason) < minReasonLength {
		reason += shortReasonNote
	}

	_, err = e.store.InsertBestProduct(ctx, store.BestProduct{
		CategoryID:         cat.ID,
		PriceRangeID:       pr.ID,
		DimensionID:        dim.ID,
		ProductName:        payload.ProductName,
		BrandName:          payload.BrandName,
		CompanyName:        payload.CompanyName,
		ProductModel:       payload.ProductModel,
		Price:              payload.Price,
		SelectionReason:    reason,
		ConfidenceScore:    payload.ConfidenceScore,
		DataSources:        payload.DataSources,
		CompanyIntro:       payload.CompanyIntro,
		CompanyFoundedYear: payload.CompanyFoundedYear,
		CompanyHQ:          payload.CompanyHeadquarters,
	})
	if err != nil {
		return fmt.Errorf("persist best product: %w", err)
	}
	e.logger.Printf("  -> %s [%s x %s]", payload.ProductName, pr.RangeName, dim.Name)
	return nil
}
