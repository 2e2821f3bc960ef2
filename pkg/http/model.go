package http

// APIResponse is the envelope of every JSON response. Status mirrors the
// HTTP status code.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"ids"`
	Message string                 `json:"message,omitempty" example:"ids is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse wraps list results. Total counts the rows returned;
// Truncated is set when a limit dropped further matches.
type ListDataResponse struct {
	Rows      interface{} `json:"rows"`
	Total     int64       `json:"total"`
	Truncated bool        `json:"truncated"`
}
