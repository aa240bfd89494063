package server

type HealthResponse struct {
	Status string            `json:"status" enum:"ok,degraded"`
	Checks map[string]string `json:"checks"`
}

// IngestRequest submits a source file for ingestion. Lat, Lon and Geom only
// apply to delimited files.
type IngestRequest struct {
	Path      string `json:"path" doc:"Path of the source file on the shared volume"`
	Label     string `json:"label" minLength:"3" maxLength:"255" doc:"Label for the new dataset"`
	CRS       string `json:"crs,omitempty" doc:"CRS of the file, e.g. EPSG:4326; required when the file carries none"`
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	Lat       string `json:"lat,omitempty" doc:"Latitude column of a delimited file"`
	Lon       string `json:"lon,omitempty" doc:"Longitude column of a delimited file"`
	Geom      string `json:"geom,omitempty" doc:"WKT geometry column of a delimited file"`
}

// TicketResponse acknowledges an accepted job.
type TicketResponse struct {
	Ticket    string `json:"ticket"`
	StatusURI string `json:"statusUri"`
}

type SetActiveRequest struct {
	Label string `json:"label" minLength:"3" maxLength:"255"`
}

type ExportRequest struct {
	Label        string `json:"label,omitempty" doc:"Dataset label; the active dataset when omitted"`
	Driver       string `json:"driver,omitempty" enum:",CSV,ESRI Shapefile,GeoJSON,GPKG,MapInfo File,DGN,KML" doc:"Export driver; the dataset's own when omitted"`
	CopyToOutput bool   `json:"copy_to_output,omitempty" doc:"Persist the artifact to the output directory beyond the session lifetime"`
}

// TransformRequest derives a new dataset from a source dataset.
type TransformRequest struct {
	Label string `json:"label" minLength:"3" maxLength:"255" doc:"Label for the derived dataset"`
	Src   string `json:"src,omitempty" doc:"Source dataset label; the active dataset when omitted"`
}

type FilterRequest struct {
	Label string `json:"label" minLength:"3" maxLength:"255"`
	Src   string `json:"src,omitempty"`
	WKT   string `json:"wkt" doc:"Geometry to filter against, as WKT"`
	CRS   string `json:"crs,omitempty" doc:"CRS of the WKT; the dataset's own when omitted"`
}

type BufferFilterRequest struct {
	Label  string  `json:"label" minLength:"3" maxLength:"255"`
	Src    string  `json:"src,omitempty"`
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Radius float64 `json:"radius" minimum:"0"`
	CRS    string  `json:"crs,omitempty" doc:"CRS of the point; the dataset's own when omitted"`
}

type JoinRequest struct {
	Label    string  `json:"label" minLength:"3" maxLength:"255"`
	Src      string  `json:"src,omitempty"`
	Right    string  `json:"right" doc:"Label of the dataset to join with"`
	JoinType string  `json:"join_type,omitempty" enum:",inner,outer" doc:"inner or outer (left); outer when omitted"`
	Distance float64 `json:"distance,omitempty" minimum:"0" doc:"Distance for within_distance joins"`
}
