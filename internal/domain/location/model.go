package location

// Ref is the uuid + display summary the picker needs to list a location.
type Ref struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

// Tag maps to a location tag such as "Login Location" or "Clinic".
type Tag struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

// Child is the summary of a child location embedded in its parent.
type Child struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
	Tags    []Tag  `json:"tags,omitempty"`
}

// Location maps to the backend location resource in its full representation.
type Location struct {
	UUID           string  `json:"uuid"`
	Display        string  `json:"display"`
	Name           string  `json:"name,omitempty"`
	Retired        bool    `json:"retired,omitempty"`
	Tags           []Tag   `json:"tags,omitempty"`
	ParentLocation *Ref    `json:"parentLocation,omitempty"`
	ChildLocations []Child `json:"childLocations,omitempty"`
}

// Ref returns the summary of l.
func (l *Location) Ref() Ref {
	return Ref{UUID: l.UUID, Display: l.Display}
}

// HasTag reports whether l carries the tag with the given uuid.
func (l *Location) HasTag(tagUUID string) bool {
	for _, t := range l.Tags {
		if t.UUID == tagUUID {
			return true
		}
	}
	return false
}

// Children returns the child summaries that can be offered as choices.
// Entries without a uuid are dropped.
func (l *Location) Children() []Ref {
	if l == nil {
		return []Ref{}
	}
	out := make([]Ref, 0, len(l.ChildLocations))
	for _, c := range l.ChildLocations {
		if c.UUID == "" {
			continue
		}
		out = append(out, Ref{UUID: c.UUID, Display: c.Display})
	}
	return out
}

// ParentUUID returns the parent's uuid, or "" for a root location.
func (l *Location) ParentUUID() string {
	if l == nil || l.ParentLocation == nil {
		return ""
	}
	return l.ParentLocation.UUID
}

// Contains reports whether refs lists the given uuid.
func Contains(refs []Ref, uuid string) bool {
	for _, r := range refs {
		if r.UUID == uuid {
			return true
		}
	}
	return false
}
