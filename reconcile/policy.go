package reconcile

import (
	"fmt"
	"strings"

	"github.com/DefiantLabs/ledger-sync/db/models"
)

// Action is what the engine does with a new discrepancy.
type Action string

const (
	ActionFlag        Action = "flag"
	ActionAutoCorrect Action = "auto-correct"
)

// Policy maps each discrepancy type to an action. Types not in the map are flagged.
type Policy map[models.DiscrepancyType]Action

// DefaultPolicy flags everything for manual review.
func DefaultPolicy() Policy {
	p := Policy{}
	for _, t := range models.DiscrepancyTypes {
		p[t] = ActionFlag
	}
	return p
}

// PolicyFromConfig auto-corrects the listed types and flags the rest. TOKEN_NOT_FOUND has no
// ledger value to correct to and is rejected.
func PolicyFromConfig(autoCorrect []string) (Policy, error) {
	p := DefaultPolicy()
	for _, name := range autoCorrect {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		t := models.DiscrepancyType(name)
		if _, known := p[t]; !known {
			return nil, fmt.Errorf("unknown discrepancy type %q", name)
		}
		if t == models.DiscrepancyTokenNotFound {
			return nil, fmt.Errorf("discrepancy type %s cannot be auto-corrected", name)
		}
		p[t] = ActionAutoCorrect
	}
	return p, nil
}

func (p Policy) ActionFor(t models.DiscrepancyType) Action {
	if t == models.DiscrepancyTokenNotFound {
		return ActionFlag
	}
	if a, ok := p[t]; ok {
		return a
	}
	return ActionFlag
}
