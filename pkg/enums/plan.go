package enums

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanBasic PlanID = "basic"
	PlanPro   PlanID = "pro"
)

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

func (p PlanID) String() string { return string(p) }

func (p PlanID) IsValid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro:
		return true
	}
	return false
}

func ParsePlanID(value string) (PlanID, error) {
	return parse[PlanID](value, "plan")
}
