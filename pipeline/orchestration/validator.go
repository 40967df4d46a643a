package orchestration

import (
	"strings"
)

// RiskLevel is the overall risk the validator assigns a checked action.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// CheckResult is one checker's verdict: APPROVED, NEEDS_REVIEW, ESCALATE,
// or REJECTED, plus supporting detail, per §4.3.2.
type CheckResult string

const (
	CheckApproved    CheckResult = "APPROVED"
	CheckNeedsReview CheckResult = "NEEDS_REVIEW"
	CheckEscalate    CheckResult = "ESCALATE"
	CheckRejected    CheckResult = "REJECTED"
)

// resultSeverity orders CheckResult from best to worst so the overall
// validation can take the worst of every checker's individual result.
var resultSeverity = map[CheckResult]int{
	CheckApproved:    0,
	CheckNeedsReview: 1,
	CheckEscalate:    2,
	CheckRejected:    3,
}

// ActionPlan is the `{action_name, target_sites, target_devices, plan,
// user, metadata}` tuple every checker inspects.
type ActionPlan struct {
	ActionName    string
	TargetSites   []string
	TargetDevices []string
	Plan          map[string]interface{}
	User          string
	Metadata      map[string]interface{}
}

// CheckOutcome is one checker's full verdict.
type CheckOutcome struct {
	Result      CheckResult
	Risk        RiskLevel
	Issues      []string
	Suggestions []string
	CheckerName string
}

// Checker inspects an ActionPlan and returns its verdict. Built-in
// checkers are plain CheckerFunc values; callers may register their own.
type Checker interface {
	Name() string
	Check(plan ActionPlan) CheckOutcome
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	FuncName string
	Fn       func(plan ActionPlan) CheckOutcome
}

func (c CheckerFunc) Name() string                   { return c.FuncName }
func (c CheckerFunc) Check(plan ActionPlan) CheckOutcome { return c.Fn(plan) }

// ValidationOutcome is the composite result of running every registered
// checker: the worst individual result, the highest risk level, and the
// union of every checker's issues and suggestions.
type ValidationOutcome struct {
	Result      CheckResult
	Risk        RiskLevel
	Issues      []string
	Suggestions []string
	Checks      []CheckOutcome
}

// Validator runs a plan through every registered checker and combines
// their verdicts per §4.3.2's maker/checker design.
type Validator struct {
	checkers []Checker
}

// NewValidator builds a validator with the two built-in checkers plus any
// extra ones supplied.
func NewValidator(extra ...Checker) *Validator {
	v := &Validator{
		checkers: []Checker{
			BulkOperationChecker(),
			RollbackPlanChecker(),
		},
	}
	v.checkers = append(v.checkers, extra...)
	return v
}

// Register adds an additional checker.
func (v *Validator) Register(c Checker) {
	v.checkers = append(v.checkers, c)
}

// Validate runs every checker against plan and folds their outcomes into
// one ValidationOutcome: the worst result, the highest risk.
func (v *Validator) Validate(plan ActionPlan) ValidationOutcome {
	out := ValidationOutcome{Result: CheckApproved, Risk: RiskNone}
	for _, checker := range v.checkers {
		outcome := checker.Check(plan)
		out.Checks = append(out.Checks, outcome)
		out.Issues = append(out.Issues, outcome.Issues...)
		out.Suggestions = append(out.Suggestions, outcome.Suggestions...)
		if resultSeverity[outcome.Result] > resultSeverity[out.Result] {
			out.Result = outcome.Result
		}
		if outcome.Risk > out.Risk {
			out.Risk = outcome.Risk
		}
	}
	return out
}

func planString(plan map[string]interface{}, key string) string {
	if plan == nil {
		return ""
	}
	if v, ok := plan[key].(string); ok {
		return v
	}
	return ""
}

func planBool(plan map[string]interface{}, key string) bool {
	if plan == nil {
		return false
	}
	v, _ := plan[key].(bool)
	return v
}

// BulkOperationChecker implements §4.3.2's bulk-operation check: more
// than 10 target sites requires plan.bulk_confirmed and a non-empty
// plan.rollback_plan, otherwise ESCALATE.
func BulkOperationChecker() Checker {
	return CheckerFunc{
		FuncName: "bulk_operation_check",
		Fn: func(plan ActionPlan) CheckOutcome {
			if len(plan.TargetSites) <= 10 {
				return CheckOutcome{Result: CheckApproved, Risk: RiskNone, CheckerName: "bulk_operation_check"}
			}
			confirmed := planBool(plan.Plan, "bulk_confirmed")
			rollback := planString(plan.Plan, "rollback_plan")
			if confirmed && rollback != "" {
				return CheckOutcome{Result: CheckApproved, Risk: RiskMedium, CheckerName: "bulk_operation_check"}
			}
			return CheckOutcome{
				Result:      CheckEscalate,
				Risk:        RiskHigh,
				CheckerName: "bulk_operation_check",
				Issues:      []string{"bulk operation targets more than 10 sites without confirmation"},
				Suggestions: []string{"set plan.bulk_confirmed=true and provide plan.rollback_plan"},
			}
		},
	}
}

// criticalActionPatterns are the action-name substrings §4.3.2 names as
// requiring a rollback plan regardless of scope.
var criticalActionPatterns = []string{
	"firmware upgrade", "factory reset", "config push", "vlan change",
	"firewall rule change", "ssid modify",
}

// RollbackPlanChecker implements §4.3.2's rollback-plan check: if the
// action name matches a critical pattern and plan.rollback_plan is
// absent or shorter than 20 characters, ESCALATE.
func RollbackPlanChecker() Checker {
	return CheckerFunc{
		FuncName: "rollback_plan_check",
		Fn: func(plan ActionPlan) CheckOutcome {
			name := strings.ToLower(plan.ActionName)
			critical := false
			for _, pattern := range criticalActionPatterns {
				if strings.Contains(name, pattern) {
					critical = true
					break
				}
			}
			if !critical {
				return CheckOutcome{Result: CheckApproved, Risk: RiskNone, CheckerName: "rollback_plan_check"}
			}
			rollback := planString(plan.Plan, "rollback_plan")
			if len(rollback) >= 20 {
				return CheckOutcome{Result: CheckApproved, Risk: RiskMedium, CheckerName: "rollback_plan_check"}
			}
			return CheckOutcome{
				Result:      CheckEscalate,
				Risk:        RiskHigh,
				CheckerName: "rollback_plan_check",
				Issues:      []string{"critical action missing an adequate rollback plan"},
				Suggestions: []string{"provide plan.rollback_plan of at least 20 characters"},
			}
		},
	}
}
