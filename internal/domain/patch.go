package domain

// IssuePatch is a field-level change to an issue. Nil fields are untouched.
type IssuePatch struct {
	Status      *IssueStatus `json:"status,omitempty"`
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Category    *Category    `json:"category,omitempty"`
}

func StatusPatch(s IssueStatus) IssuePatch {
	return IssuePatch{Status: &s}
}

func (p IssuePatch) Empty() bool {
	return p.Status == nil && p.Title == nil && p.Description == nil && p.Category == nil
}

// Apply returns i with the patch's present fields overwritten.
func (p IssuePatch) Apply(i Issue) Issue {
	if p.Status != nil {
		i.Status = *p.Status
	}
	if p.Title != nil {
		i.Title = *p.Title
	}
	if p.Description != nil {
		i.Description = *p.Description
	}
	if p.Category != nil {
		i.Category = *p.Category
	}
	return i
}

// Inverse captures the values in before for exactly the fields p touches.
func (p IssuePatch) Inverse(before Issue) IssuePatch {
	var inv IssuePatch
	if p.Status != nil {
		s := before.Status
		inv.Status = &s
	}
	if p.Title != nil {
		t := before.Title
		inv.Title = &t
	}
	if p.Description != nil {
		d := before.Description
		inv.Description = &d
	}
	if p.Category != nil {
		c := before.Category
		inv.Category = &c
	}
	return inv
}
