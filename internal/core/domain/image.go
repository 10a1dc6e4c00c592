package domain

import "time"

// Image is the authoritative per-photo record. URL is its identity, set at
// upload and immutable afterwards; everything else is patched field by field.
type Image struct {
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Category   Category  `json:"category"`
	Angle      Angle     `json:"angle"`
	IsCloseup  bool      `json:"is_closeup"`
	Source     Source    `json:"source,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ImagePatch is a field-level write against one image. Nil fields are left
// untouched. Source tags the provenance of the write and decides whether it
// may clobber the current record.
type ImagePatch struct {
	URL        string    `json:"url"`
	Angle      *Angle    `json:"angle,omitempty"`
	Category   *Category `json:"category,omitempty"`
	IsCloseup  *bool     `json:"is_closeup,omitempty"`
	Source     Source    `json:"source,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Normalize enforces the category/angle invariant: recategorizing away from
// exterior forces the angle back to unknown.
func (p *ImagePatch) Normalize() {
	if p.Category != nil && *p.Category != CategoryExterior {
		unknown := AngleUnknown
		p.Angle = &unknown
	}
}

type ClassificationStatus string

const (
	StatusOK      ClassificationStatus = "ok"
	StatusSkipped ClassificationStatus = "skipped"
	StatusError   ClassificationStatus = "error"
)

// ClassificationResult is the transient worker output for one input image.
// A batch always returns exactly one result per input; failures surface as
// status=error with angle=unknown, never as a dropped entry.
type ClassificationResult struct {
	URL        string               `json:"url"`
	ID         string               `json:"id,omitempty"`
	Angle      Angle                `json:"angle"`
	Source     Source               `json:"source,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
	Status     ClassificationStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// ImageRef identifies one image submitted for classification.
type ImageRef struct {
	URL string `json:"url"`
	ID  string `json:"id,omitempty"`
}

// ClassifyJob is an asynchronous classification batch request.
type ClassifyJob struct {
	JobID                 string     `json:"job_id"`
	DocumentID            string     `json:"document_id"`
	Images                []ImageRef `json:"images"`
	ReclassifyUnknownOnly bool       `json:"reclassify_unknown_only"`
	ModelEnabled          bool       `json:"model_enabled"`
	EnqueuedAt            time.Time  `json:"enqueued_at"`
}

// AngleCounts is the live aggregate over one document's image set. It is
// always computed from current data, never cached.
type AngleCounts struct {
	TotalExterior   int `json:"total_exterior"`
	UnknownExterior int `json:"unknown_exterior"`
}

// Ready reports whether every exterior image carries a definitive angle.
func (c AngleCounts) Ready() bool {
	return c.UnknownExterior == 0
}

// AngleUpdate is the change notification broadcast after every accepted write.
type AngleUpdate struct {
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Angle      Angle     `json:"angle,omitempty"`
	Category   Category  `json:"category,omitempty"`
	IsCloseup  *bool     `json:"is_closeup,omitempty"`
	Source     Source    `json:"source,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	At         time.Time `json:"at"`
}
