package output

import "time"

// ProductResult is one produced value.
type ProductResult struct {
	Path  string `json:"path"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RunOutput is the JSON output of `geeksw run`.
type RunOutput struct {
	RunID     string          `json:"run_id,omitempty"`
	Status    string          `json:"status"`
	Targets   []string        `json:"targets"`
	Products  []ProductResult `json:"products"`
	Executed  int             `json:"executed"`
	CacheHits int             `json:"cache_hits"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Error     string          `json:"error,omitempty"`
}

// PlanInstance is one planned producer invocation.
type PlanInstance struct {
	Product   string   `json:"product"`
	Producer  string   `json:"producer"`
	Kind      string   `json:"kind"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// PlanLevel groups instances that may run in parallel.
type PlanLevel struct {
	Level     int            `json:"level"`
	Instances []PlanInstance `json:"instances"`
}

// PlanOutput is the JSON output of `geeksw plan`.
type PlanOutput struct {
	Targets        []string    `json:"targets"`
	Levels         []PlanLevel `json:"levels"`
	CacheHits      []string    `json:"cache_hits"`
	TotalInstances int         `json:"total_instances"`
	TotalEdges     int         `json:"total_edges"`
}

// CacheEntryInfo describes one cached product.
type CacheEntryInfo struct {
	Key       string    `json:"key"`
	Product   string    `json:"product"`
	Producer  string    `json:"producer"`
	Tag       string    `json:"tag"`
	File      string    `json:"file"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheListOutput is the JSON output of `geeksw cache ls`.
type CacheListOutput struct {
	Dir       string           `json:"dir"`
	Entries   []CacheEntryInfo `json:"entries"`
	TotalSize int64            `json:"total_size"`
}

// InstanceInfo is one recorded instance of a run.
type InstanceInfo struct {
	Product     string `json:"product"`
	Producer    string `json:"producer"`
	Status      string `json:"status"`
	Cached      bool   `json:"cached"`
	ExecutionMS int64  `json:"execution_ms"`
	Error       string `json:"error,omitempty"`
}

// RunInfo is one entry of the run history.
type RunInfo struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Mode        string         `json:"mode"`
	Targets     []string       `json:"targets"`
	Datasets    []string       `json:"datasets"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CacheHits   int            `json:"cache_hits"`
	Error       string         `json:"error,omitempty"`
	Instances   []InstanceInfo `json:"instances,omitempty"`
}
