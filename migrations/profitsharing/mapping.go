package profitsharing

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping translates legacy PROFIT_CODE.CODE values to the surrogate ID and back.
type Mapping struct {
	toID     map[int]int
	toCode   map[int]int
	inserted []int
}

// ToID maps a legacy code to its ID.
func (m *Mapping) ToID(code int) (int, bool) {
	id, ok := m.toID[code]
	return id, ok
}

// ToCode maps an ID back to its legacy code.
func (m *Mapping) ToCode(id int) (int, bool) {
	code, ok := m.toCode[id]
	return code, ok
}

// Inserted returns the IDs that have no legacy code.
func (m *Mapping) Inserted() []int {
	return append([]int(nil), m.inserted...)
}

// IsInserted reports whether id has no legacy code.
func (m *Mapping) IsInserted(id int) bool {
	for _, v := range m.inserted {
		if v == id {
			return true
		}
	}
	return false
}

// Pairs returns (code, id) pairs ordered by code.
func (m *Mapping) Pairs() [][2]int {
	out := make([][2]int, 0, len(m.toID))
	for code, id := range m.toID {
		out = append(out, [2]int{code, id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// IsIdentity reports whether every legacy code keeps its value as ID.
func (m *Mapping) IsIdentity() bool {
	for code, id := range m.toID {
		if code != id {
			return false
		}
	}
	return true
}

// ValuesSQL renders the mapping as a VALUES list aliased as alias(old_code, new_id),
// or (new_id, old_code) when reverse is set.
func (m *Mapping) ValuesSQL(alias string, reverse bool) string {
	rows := make([]string, 0, len(m.toID))
	for _, p := range m.Pairs() {
		if reverse {
			rows = append(rows, fmt.Sprintf("(%d, %d)", p[1], p[0]))
		} else {
			rows = append(rows, fmt.Sprintf("(%d, %d)", p[0], p[1]))
		}
	}
	cols := "old_code, new_id"
	if reverse {
		cols = "new_id, old_code"
	}
	return fmt.Sprintf("(VALUES %s) AS %s(%s)", strings.Join(rows, ", "), alias, cols)
}
