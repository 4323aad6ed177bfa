package store

import "time"

// Stage is the lifecycle position of a category in the pipeline.
type Stage string

const (
	// StageNew - no generated children yet, waiting for price ranges.
	StageNew Stage = "new"
	// StagePriced - price ranges exist, waiting for evaluation dimensions.
	StagePriced Stage = "priced"
	// StageDimensioned - ranges and dimensions exist, waiting for product selection.
	StageDimensioned Stage = "dimensioned"
	// StageSelected - fully processed.
	StageSelected Stage = "selected"
	// StageQuarantined - error_count reached the retry ceiling; excluded from
	// every eligibility query until an operator resets it.
	StageQuarantined Stage = "quarantined"
)

// Call ledger statuses.
const (
	CallStatusSuccess = "success"
	CallStatusFailed  = "failed"
)

// Category is one leaf of the three-level product taxonomy.
type Category struct {
	ID                   int64
	Level1               string
	Level2               string
	Level3               string
	FullPath             string
	IsProcessed          bool
	PriceRangesGenerated bool
	DimensionsGenerated  bool
	ProductsSelected     bool
	ErrorCount           int
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Stage derives the lifecycle stage from the category flags. maxErrors is
// the quarantine ceiling; quarantine takes precedence over progress flags.
func (c Category) Stage(maxErrors int) Stage {
	if c.ErrorCount >= maxErrors {
		return StageQuarantined
	}
	switch {
	case c.ProductsSelected:
		return StageSelected
	case c.DimensionsGenerated:
		return StageDimensioned
	case c.PriceRangesGenerated:
		return StagePriced
	default:
		return StageNew
	}
}

// PriceRange is one generated price band for a category.
type PriceRange struct {
	ID          int64
	CategoryID  int64
	RangeName   string
	MinPrice    float64
	MaxPrice    *float64
	RangeOrder  int
	Description string
	CreatedAt   time.Time
}

// Dimension is one generated evaluation dimension for a category.
type Dimension struct {
	ID          int64
	CategoryID  int64
	Name        string
	Code        string
	Order       int
	Description string
	Weight      float64
	CreatedAt   time.Time
}

// BestProduct is one selected product for a (price range, dimension) pair.
// Rows are append-only; the review columns are written by a human workflow
// outside this service.
type BestProduct struct {
	ID                 int64
	CategoryID         int64
	PriceRangeID       int64
	DimensionID        int64
	ProductName        string
	BrandName          string
	CompanyName        string
	ProductModel       string
	Price              *float64
	SelectionReason    string
	ConfidenceScore    *float64
	DataSources        string
	CompanyIntro       string
	CompanyFoundedYear *int
	CompanyHQ          string
	Status             string
	CreatedAt          time.Time
}

// CallLog is one row of the backend call ledger. Every call attempt gets a
// row, success or failure.
type CallLog struct {
	ID             int64
	CategoryID     *int64
	APIProvider    string
	ModelName      string
	InputTokens    int
	OutputTokens   int
	Cost           float64
	ResponseTimeMs int
	Status         string
	ErrorMessage   string
	CreatedAt      time.Time
}

// Stats is the aggregate snapshot served by the admin dashboard.
type Stats struct {
	TotalCategories int64
	PriceDone       int64
	DimensionsDone  int64
	ProductsDone    int64
	Processed       int64
	Quarantined     int64
	TotalProducts   int64
	TotalCalls      int64
	TotalTokens     int64
	TotalCost       float64
	TodayCalls      int64
	TodayCost       float64
}

// CategoryFilter narrows the admin category listing.
type CategoryFilter struct {
	Page     int
	PageSize int
	Status   string // pending, processed, price_only, dimension_only
	Search   string
}

// CategoryImport is one taxonomy row for bulk loading.
type CategoryImport struct {
	Level1 string
	Level2 string
	Level3 string
}
