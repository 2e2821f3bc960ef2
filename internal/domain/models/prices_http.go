package models

// Requests for the prices HTTP endpoints.

type PricesRequest struct {
	IDs   string `query:"ids" json:"ids"`
	Start string `query:"start" json:"start"`
	End   string `query:"end" json:"end"`
	Limit int    `query:"limit" json:"limit" validate:"gte=0"`
}

type MetadataRequest struct {
	IDs string `query:"ids" json:"ids"`
}

type IngestCSVRequest struct {
	Path     string `json:"path" validate:"required"`
	Snapshot string `json:"snapshot"`
}

type IngestHistoryRequest struct {
	IDs  []string `json:"ids" validate:"required,min=1,max=250,dive,required"`
	Days int      `json:"days" default:"1" validate:"gte=1,lte=365"`
}
