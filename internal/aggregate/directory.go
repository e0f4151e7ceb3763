package aggregate

// Entity is a named lookup row (function, tool or capability).
type Entity struct {
	ID     uint
	Name   string
	Active bool
}

// TeamEntity is a team lookup row with its parent function.
type TeamEntity struct {
	ID         uint
	FunctionID uint
	Name       string
	Active     bool
}

// Directory is a read-only snapshot of the lookup tables, including
// deactivated rows so historical submissions still resolve.
type Directory struct {
	Functions    map[uint]Entity
	Teams        map[uint]TeamEntity
	Tools        map[uint]Entity
	Capabilities map[uint]Entity
}

// NewDirectory returns an empty directory ready to be filled.
func NewDirectory() *Directory {
	return &Directory{
		Functions:    make(map[uint]Entity),
		Teams:        make(map[uint]TeamEntity),
		Tools:        make(map[uint]Entity),
		Capabilities: make(map[uint]Entity),
	}
}

// ActiveTeamCount returns how many active teams belong to functionID.
func (d *Directory) ActiveTeamCount(functionID uint) int {
	n := 0
	for _, t := range d.Teams {
		if t.FunctionID == functionID && t.Active {
			n++
		}
	}
	return n
}
