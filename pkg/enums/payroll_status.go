package enums

// PayrollStatus tracks the payment lifecycle of a payroll record.
type PayrollStatus string

const (
	PayrollStatusPending   PayrollStatus = "pending"
	PayrollStatusPaid      PayrollStatus = "paid"
	PayrollStatusCancelled PayrollStatus = "cancelled"
)

func (s PayrollStatus) String() string { return string(s) }

func (s PayrollStatus) IsValid() bool {
	switch s {
	case PayrollStatusPending, PayrollStatusPaid, PayrollStatusCancelled:
		return true
	}
	return false
}

func ParsePayrollStatus(value string) (PayrollStatus, error) {
	return parse[PayrollStatus](value, "payroll status")
}
