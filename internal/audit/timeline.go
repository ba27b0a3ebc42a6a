package audit

import "time"

// Filters narrows the corrections listing.
type Filters struct {
	From     time.Time
	To       time.Time
	Entity   string
	EntityID int64
	Action   string
	Page     int
	PageSize int
}

// Entry is one row of the corrections log, decoded from audit_entries.
type Entry struct {
	ID          int64          `json:"id"`
	Entity      string         `json:"entity"`
	EntityID    int64          `json:"entity_id"`
	Action      string         `json:"action"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	TriggeredBy string         `json:"triggered_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles one page of entries with its paging info.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
