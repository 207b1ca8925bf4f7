package processor

// Result shapes returned by processors for the built-in task types. The
// workflow controller aggregates these; other result values are passed
// through untouched.

// IngestedItem is one answer sheet accepted by an ingest task.
type IngestedItem struct {
	ItemID string `json:"item_id"`
	File   string `json:"file"`
	Pages  int    `json:"pages"`
}

// IngestResult lists the items produced from the submitted files.
type IngestResult struct {
	Items []IngestedItem `json:"items"`
}

// ItemIDs returns the ids of every ingested item.
func (r IngestResult) ItemIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		ids = append(ids, item.ItemID)
	}
	return ids
}

// QualityScore is the scan quality of one item in the range 0-1.
type QualityScore struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// QualityResult holds per-item quality scores.
type QualityResult struct {
	Scores []QualityScore `json:"scores"`
}

// IdentityMatch links an item to a student with a confidence in the range 0-1.
type IdentityMatch struct {
	ItemID     string  `json:"item_id"`
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

// IdentityResult holds per-item identity matches.
type IdentityResult struct {
	Matches []IdentityMatch `json:"matches"`
}

// StructureRegion reports how many answer regions were segmented on an item.
type StructureRegion struct {
	ItemID  string `json:"item_id"`
	Regions int    `json:"regions"`
}

// StructureResult holds per-item segmentation output.
type StructureResult struct {
	Items []StructureRegion `json:"items"`
}

// ValidationResult counts items that passed or failed validation.
type ValidationResult struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// EnhancementResult counts items that were re-rendered.
type EnhancementResult struct {
	Enhanced int `json:"enhanced"`
}
