package enums

import "fmt"

// TreeStatus mirrors the farm subsystem's tree lifecycle.
type TreeStatus string

const (
	TreeStatusSeedling   TreeStatus = "seedling"
	TreeStatusGrowing    TreeStatus = "growing"
	TreeStatusProductive TreeStatus = "productive"
	TreeStatusDormant    TreeStatus = "dormant"
	TreeStatusRetired    TreeStatus = "retired"
)

var validTreeStatuses = []TreeStatus{
	TreeStatusSeedling,
	TreeStatusGrowing,
	TreeStatusProductive,
	TreeStatusDormant,
	TreeStatusRetired,
}

// String implements fmt.Stringer.
func (t TreeStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TreeStatus.
func (t TreeStatus) IsValid() bool {
	for _, candidate := range validTreeStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTreeStatus converts raw input into a TreeStatus.
func ParseTreeStatus(value string) (TreeStatus, error) {
	for _, candidate := range validTreeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tree status %q", value)
}

// IsInvestable reports whether new capital may be committed to a tree in this state.
func (t TreeStatus) IsInvestable() bool {
	return t == TreeStatusGrowing || t == TreeStatusProductive
}
