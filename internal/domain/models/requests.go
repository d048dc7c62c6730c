package models

// Requests for HTTP endpoints. Defined in domain for consistency and reuse.

type CompareRequest struct {
	Query string `query:"query" json:"query" validate:"required,min=2,max=200"`
	Limit int    `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=50"`
}

type TrendRequest struct {
	ProductID string `param:"product_id" json:"product_id" validate:"required,uuid4"`
	Horizon   int    `query:"horizon" json:"horizon" default:"7" validate:"gte=1,lte=30"`
}

type HistoryRequest struct {
	ProductID string `param:"product_id" json:"product_id" validate:"required,uuid4"`
	StoreID   string `query:"store_id" json:"store_id"`
	Since     string `query:"since" json:"since"` // RFC3339, date, or unix seconds
	Limit     int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ProductSearchRequest struct {
	Query string `query:"query" json:"query" validate:"required,min=2,max=200"`
	Limit int    `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=50"`
}

type ProductGetRequest struct {
	ProductID string `param:"id" json:"id" validate:"required,uuid4"`
}
