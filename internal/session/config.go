package session

import (
	"fmt"
	"slices"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
)

// UnitMode selects how the active unit list is chosen.
type UnitMode string

const (
	// UnitModeCount activates units 1..N.
	UnitModeCount UnitMode = "count"
	// UnitModeSubset activates an explicit list of unit indices.
	UnitModeSubset UnitMode = "subset"
)

// ParseUnitMode maps a configuration string to a UnitMode. Empty means count.
func ParseUnitMode(s string) (UnitMode, error) {
	switch UnitMode(s) {
	case "", UnitModeCount:
		return UnitModeCount, nil
	case UnitModeSubset:
		return UnitModeSubset, nil
	}
	return "", tmerrors.Errorf(tmerrors.KindValidation, "unknown unit mode %q", s)
}

// Details is the operator-entered ancillary data sent with a run start. Serials and
// comments are indexed by position within the active unit list.
type Details struct {
	Serials      []string `json:"serials"`
	Comments     []string `json:"comments"`
	OperatorName string   `json:"operatorName"`
}

// Config tracks the active units and their per-position serial and comment.
type Config struct {
	mode     UnitMode
	maxUnits int
	units    []int
	serials  []string
	comments []string
	operator string
	tab      int
}

// NewConfig returns a single-unit configuration.
func NewConfig(mode UnitMode) *Config {
	c := &Config{mode: mode}
	c.Reset(1)
	return c
}

// Reset is applied on script load: one active unit, empty ancillary fields, and a new
// maximum unit count. The operator name is session wide and survives.
func (c *Config) Reset(maxUnits int) {
	if maxUnits < 1 {
		maxUnits = 1
	}
	c.maxUnits = maxUnits
	c.units = []int{1}
	c.serials = []string{""}
	c.comments = []string{""}
	c.tab = 1
}

// SetUnits replaces the active unit list. It reports whether the set changed; when it did,
// ancillary slots are resized by position and the displayed tab returns to the first unit.
func (c *Config) SetUnits(units []int) (bool, error) {
	if err := c.validate(units); err != nil {
		return false, err
	}
	next := slices.Clone(units)
	slices.Sort(next)
	if slices.Equal(next, c.units) {
		return false, nil
	}

	c.units = next
	c.serials = resize(c.serials, len(next))
	c.comments = resize(c.comments, len(next))
	c.tab = next[0]
	return true, nil
}

// SetUnitCount activates units 1..n.
func (c *Config) SetUnitCount(n int) (bool, error) {
	if n < 1 {
		return false, tmerrors.Errorf(tmerrors.KindValidation, "unit count %d must be at least 1", n)
	}
	units := make([]int, n)
	for i := range units {
		units[i] = i + 1
	}
	return c.SetUnits(units)
}

func (c *Config) validate(units []int) error {
	if len(units) == 0 {
		return tmerrors.New(tmerrors.KindValidation, "at least one unit must be active")
	}
	seen := make(map[int]bool, len(units))
	for _, u := range units {
		if u < 1 || u > c.maxUnits {
			return tmerrors.Errorf(tmerrors.KindValidation, "unit %d outside 1..%d", u, c.maxUnits)
		}
		if seen[u] {
			return tmerrors.Errorf(tmerrors.KindValidation, "unit %d listed twice", u)
		}
		seen[u] = true
	}
	if c.mode == UnitModeCount {
		for i := 1; i <= len(units); i++ {
			if !seen[i] {
				return tmerrors.Errorf(tmerrors.KindValidation, "count mode requires units 1..%d", len(units))
			}
		}
	}
	return nil
}

// resize keeps existing values by position and pads with empty strings.
func resize(values []string, n int) []string {
	out := make([]string, n)
	copy(out, values)
	return out
}

// SetSerial sets the serial of the unit at position pos of the active list.
func (c *Config) SetSerial(pos int, serial string) error {
	if err := c.checkPos(pos); err != nil {
		return err
	}
	c.serials[pos] = serial
	return nil
}

// SetComment sets the comment of the unit at position pos of the active list.
func (c *Config) SetComment(pos int, comment string) error {
	if err := c.checkPos(pos); err != nil {
		return err
	}
	c.comments[pos] = comment
	return nil
}

func (c *Config) checkPos(pos int) error {
	if pos < 0 || pos >= len(c.units) {
		return tmerrors.Errorf(tmerrors.KindValidation, "position %d outside 0..%d", pos, len(c.units)-1)
	}
	return nil
}

// SetOperator sets the session-wide operator name.
func (c *Config) SetOperator(name string) {
	c.operator = name
}

// ApplyDetails copies d into the position-indexed slots. Values beyond the active list fail.
func (c *Config) ApplyDetails(d Details) error {
	if len(d.Serials) > len(c.units) || len(d.Comments) > len(c.units) {
		return tmerrors.Errorf(tmerrors.KindValidation, "details cover more than %d active units", len(c.units))
	}
	copy(c.serials, d.Serials)
	copy(c.comments, d.Comments)
	c.operator = d.OperatorName
	return nil
}

// SetTab selects the displayed unit; it must be active.
func (c *Config) SetTab(unit int) error {
	if !slices.Contains(c.units, unit) {
		return tmerrors.Errorf(tmerrors.KindValidation, "unit %d is not active", unit)
	}
	c.tab = unit
	return nil
}

func (c *Config) Mode() UnitMode   { return c.mode }
func (c *Config) MaxUnits() int    { return c.maxUnits }
func (c *Config) Units() []int     { return slices.Clone(c.units) }
func (c *Config) Tab() int         { return c.tab }
func (c *Config) Operator() string { return c.operator }

// Details returns a copy of the ancillary fields in start-request form.
func (c *Config) Details() Details {
	return Details{
		Serials:      slices.Clone(c.serials),
		Comments:     slices.Clone(c.comments),
		OperatorName: c.operator,
	}
}

// Position returns the index of unit within the active list.
func (c *Config) Position(unit int) (int, bool) {
	i := slices.Index(c.units, unit)
	return i, i >= 0
}

func (c *Config) String() string {
	return fmt.Sprintf("%s units=%v max=%d", c.mode, c.units, c.maxUnits)
}
