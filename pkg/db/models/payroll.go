package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// LineItem is one earning or deduction on a payroll record.
type LineItem struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// LineItems keeps order and is stored as a JSON document.
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]LineItem(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *LineItems) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = LineItems{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("LineItems: unsupported Scan type %T", src)
	}
	var items []LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("LineItems: %w", err)
	}
	*l = items
	return nil
}

// Sum totals the amounts.
func (l LineItems) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, item := range l {
		total = total.Add(item.Amount)
	}
	return total
}

const PayrollPeriodConstraint = "ux_payrolls_period"

// Payroll is one issued pay statement. (employee, organization, period start, period end) is unique.
type Payroll struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	EmployeeID      uuid.UUID           `gorm:"column:employee_id;type:uuid;not null;uniqueIndex:ux_payrolls_period,priority:1"`
	OrganizationID  uuid.UUID           `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_payrolls_period,priority:2;index"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	PeriodStart     time.Time           `gorm:"column:period_start;type:date;not null;uniqueIndex:ux_payrolls_period,priority:3"`
	PeriodEnd       time.Time           `gorm:"column:period_end;type:date;not null;uniqueIndex:ux_payrolls_period,priority:4"`
	MonthYear       string              `gorm:"column:month_year;not null;index"`
	PaidDays        int                 `gorm:"column:paid_days;not null"`
	LossOfPayDays   int                 `gorm:"column:loss_of_pay_days;not null;default:0"`
	PayDate         time.Time           `gorm:"column:pay_date;type:date;not null"`
	Earnings        LineItems           `gorm:"column:earnings;type:jsonb;not null"`
	Deductions      LineItems           `gorm:"column:deductions;type:jsonb;not null"`
	GrossEarnings   decimal.Decimal     `gorm:"column:gross_earnings;type:numeric(14,2);not null"`
	TotalDeductions decimal.Decimal     `gorm:"column:total_deductions;type:numeric(14,2);not null"`
	NetPayable      decimal.Decimal     `gorm:"column:net_payable;type:numeric(14,2);not null"`
	AmountInWords   string              `gorm:"column:amount_in_words;not null"`
	EmailSent       bool                `gorm:"column:email_sent;not null;default:false"`
	EmailSentAt     *time.Time          `gorm:"column:email_sent_at"`
	Notes           *string             `gorm:"column:notes"`
	GeneratedBy     *uuid.UUID          `gorm:"column:generated_by;type:uuid"`
	Status          enums.PayrollStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payroll) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
