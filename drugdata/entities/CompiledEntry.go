package entities

// CompiledEntry is one row of the compiled drug dataset
type CompiledEntry struct {
	DrugCode          string   `json:"drug_code"`
	BrandName         string   `json:"brand_name"`
	Ingredients       []string `json:"ingredients"`
	DosageForm        string   `json:"dosage_form"`
	NormalizedForm    string   `json:"normalized_form"`
	IsRestricted      bool     `json:"is_restricted"`
	RestrictionReason string   `json:"restriction_reason,omitempty"`
	Schedules         []string `json:"schedules,omitempty"`
	Descriptor        string   `json:"descriptor,omitempty"`
	Status            string   `json:"status,omitempty"`
	HistoryDate       string   `json:"history_date,omitempty"`
	SearchText        string   `json:"_search_text"`
}
