package domain

const (
	ProjectActive    = "active"
	ProjectArchived  = "archived"
	ProjectCompleted = "completed"
)

// Project groups tasks and members.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Archived    bool     `json:"archived"`
	Progress    int      `json:"progress"`
	MemberIDs   []string `json:"memberIds,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	// Extra holds server attributes not modelled above.
	Extra map[string]any `json:"-"`
}

func (p *Project) Kind() Kind         { return KindProject }
func (p *Project) ResourceID() string { return p.ID }

type projectJSON Project

var projectKeys = jsonKeys(projectJSON{})

func (p *Project) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*projectJSON)(p), projectKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	return nil
}

func (p Project) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(projectJSON(p), p.Extra)
}

func (p *Project) Clone() Resource {
	c := *p
	c.MemberIDs = cloneStrings(p.MemberIDs)
	c.Extra = cloneExtra(p.Extra)
	return &c
}

// ArchiveProject returns an archived copy of p.
func ArchiveProject(p *Project) *Project {
	next := p.Clone().(*Project)
	next.Archived = true
	next.Status = ProjectArchived
	return next
}

// UnarchiveProject returns an active copy of p.
func UnarchiveProject(p *Project) *Project {
	next := p.Clone().(*Project)
	next.Archived = false
	next.Status = ProjectActive
	return next
}
