package audit

// EntryOperation is the flattened operation recorded in each audit entry.
type EntryOperation struct {
	Tool     string `json:"tool"`
	Resource string `json:"resource"`
}

// EntryVerdict is the loop-detector verdict at the end of a cycle.
type EntryVerdict struct {
	Detected   bool    `json:"detected"`
	LoopType   string  `json:"loop_type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// EntryUsage is the resource consumption snapshot at the end of a cycle.
type EntryUsage struct {
	Tokens       int64   `json:"tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Actions      int     `json:"actions"`
	FilesChanged int     `json:"files_changed"`
}

// Entry is one line in the hash-chained JSONL telemetry log: one record
// per cycle (or per gated action). All fields are structs (no
// map[string]any) to guarantee deterministic json.Marshal field order for
// reproducible hashing.
type Entry struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase"`
	Operation EntryOperation `json:"operation"`
	Decision  string         `json:"decision,omitempty"`
	Verdict   EntryVerdict   `json:"verdict"`
	Usage     EntryUsage     `json:"usage"`
	Reason    string         `json:"reason,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}
