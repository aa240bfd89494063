package domain

// Job request types.
const (
	RequestIngest = "ingest"
	RequestExport = "export"
)

// Export statuses.
const (
	ExportProcessing = "processing"
	ExportCompleted  = "completed"
	ExportFailed     = "failed"
)

type Session struct {
	UUID          string  `json:"uuid"`
	Token         string  `json:"token"`
	Created       string  `json:"created" format:"date-time"`
	LastRequest   string  `json:"last_request" format:"date-time"`
	Active        bool    `json:"active"`
	ActiveDataset *string `json:"active_dataset,omitempty"`
	SchemaName    string  `json:"schema"`
	WorkingPath   string  `json:"working_path"`
}

// Metadata is the immutable snapshot captured when a dataset is created.
// Derived datasets inherit it from their source unless the engine recomputes it.
type Metadata struct {
	EPSG         int       `json:"epsg"`
	Driver       string    `json:"driver"`
	FeatureCount int       `json:"features"`
	BBox         []float64 `json:"bbox,omitempty"`
}

type Dataset struct {
	UUID       string   `json:"uuid"`
	Session    string   `json:"session"`
	Label      string   `json:"label"`
	TableRef   string   `json:"table"`
	SourceFile *string  `json:"source_file,omitempty"`
	Created    string   `json:"created" format:"date-time"`
	Deleted    bool     `json:"deleted"`
	Meta       Metadata `json:"meta"`
}

// Action is a lineage edge: the operation that produced one dataset from
// another. Never mutated after creation.
type Action struct {
	ID            int64  `json:"id"`
	Session       string `json:"session"`
	Action        string `json:"action"`
	SourceDataset string `json:"src_dataset"`
	ResultDataset string `json:"result_dataset"`
	Performed     string `json:"performed" format:"date-time"`
}

// DatasetInfo is a dataset enriched with its originating action. Source and
// Action are nil for ingested datasets (no inbound lineage edge).
type DatasetInfo struct {
	Label        string    `json:"label"`
	Created      string    `json:"created" format:"date-time"`
	BBox         []float64 `json:"bbox,omitempty"`
	EPSG         int       `json:"epsg"`
	FeatureCount int       `json:"features"`
	Driver       string    `json:"driver"`
	Source       *string   `json:"source"`
	Action       *string   `json:"action"`
}

// SessionInfo is the overview returned for an active session.
type SessionInfo struct {
	LastRequest   string       `json:"last_request" format:"date-time"`
	DatasetCount  int          `json:"datasets"`
	ActiveDataset *DatasetInfo `json:"active_dataset"`
}

type Job struct {
	UUID           string   `json:"uuid"`
	Session        string   `json:"session"`
	Ticket         string   `json:"ticket"`
	IdempotencyKey *string  `json:"idempotency_key,omitempty"`
	Request        string   `json:"request" enum:"ingest,export"`
	Label          string   `json:"label"`
	Params         string   `json:"-"`
	Initiated      string   `json:"initiated" format:"date-time"`
	ExecutionTime  *float64 `json:"execution_time,omitempty"`
	Completed      bool     `json:"completed"`
	Success        *bool    `json:"success,omitempty"`
	ErrorMessage   *string  `json:"error_message,omitempty"`
	Dataset        *string  `json:"dataset,omitempty"`
	Export         *string  `json:"export,omitempty"`
}

type Export struct {
	UUID       string  `json:"uuid"`
	Dataset    string  `json:"dataset"`
	Driver     string  `json:"driver"`
	Status     string  `json:"status" enum:"processing,completed,failed"`
	FilePath   *string `json:"file,omitempty"`
	OutputPath *string `json:"output_path,omitempty"`
}

// JobView is the public status-polling contract for a job, stable across
// releases. Resources fields are populated only for the relevant request
// type, otherwise null.
type JobView struct {
	Ticket         string       `json:"ticket"`
	IdempotencyKey *string      `json:"idempotencyKey"`
	RequestType    string       `json:"requestType" enum:"ingest,export"`
	Initiated      string       `json:"initiated" format:"date-time"`
	ExecutionTime  *float64     `json:"executionTime"`
	Completed      bool         `json:"completed"`
	Success        *bool        `json:"success"`
	ErrorMessage   *string      `json:"errorMessage"`
	Resources      JobResources `json:"resources"`
}

type JobResources struct {
	DatasetLabel *string `json:"datasetLabel"`
	Link         *string `json:"link"`
	OutputPath   *string `json:"outputPath"`
}

// ActiveJob is a non-completed job with its session context, for
// operational visibility across sessions.
type ActiveJob struct {
	SessionToken       string  `json:"sessionToken"`
	SessionLastRequest string  `json:"sessionLastRequest" format:"date-time"`
	Ticket             string  `json:"ticket"`
	IdempotencyKey     *string `json:"idempotencyKey"`
	RequestType        string  `json:"requestType" enum:"ingest,export"`
	Initiated          string  `json:"initiated" format:"date-time"`
}

// DatasetExports groups the exports requested for one dataset label.
type DatasetExports struct {
	Label   string       `json:"label"`
	Exports []ExportInfo `json:"exports"`
}

type ExportInfo struct {
	Driver     string  `json:"driver"`
	Status     string  `json:"status" enum:"processing,completed,failed"`
	Link       *string `json:"link"`
	OutputPath *string `json:"output_path"`
}
