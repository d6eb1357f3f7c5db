package models

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

type Page struct {
	Limit  int
	Offset int
}

// Page with limit and offset clamped to sane values
func (p Page) Normalize() Page {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}

	if p.Offset < 0 {
		p.Offset = 0
	}

	return p
}
