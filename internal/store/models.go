package store

import "time"

// Run is one unit's completed run: its header plus the rows it emitted, in arrival order.
type Run struct {
	ID           string
	ScriptName   string
	UnitIndex    int
	Serial       string
	OperatorName string
	Comments     string
	CreatedAt    time.Time
	Rows         []Row // Empty on list results
	RowCount     int
}

// Row is one stored lifecycle event. JSON-valued columns are kept as raw JSON text.
type Row struct {
	MessageType   string
	TestName      string
	ResultType    string
	ExpectedRange string
	ResultUnit    string
	Result        string
	Pass          string
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	ScriptName string
	UnitIndex  int
	Limit      int
}
