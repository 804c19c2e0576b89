package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

var payslipTemplate = template.Must(template.New("payslip").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; color: #333;">
  <h2 style="color: #1e3a5f;">Payslip for {{.MonthYear}}</h2>
  <p>Hello {{.EmployeeName}},</p>
  <p>Please find attached your payslip for the period {{.MonthYear}}.</p>
  <p>The document contains a detailed breakdown of your earnings and deductions for this pay period.</p>
  {{- if .Encrypted}}
  <p>The attachment is encrypted. Your password is the first four letters of your name in lowercase followed by your employee ID.</p>
  {{- end}}
  <p>If you have any questions regarding your payslip, please contact your HR department.</p>
  <div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee;">
    <p style="font-size: 12px; color: #666;">This is an automated email from {{.OrganizationName}}. Please do not reply to this message.</p>
  </div>
</div>`))

type PayslipEmail struct {
	To               string
	EmployeeName     string
	OrganizationName string
	MonthYear        string
	Encrypted        bool
	Attachment       Attachment
}

// NewPayslipMessage composes the statement email sent to an employee.
func NewPayslipMessage(in PayslipEmail) (Message, error) {
	var body bytes.Buffer
	if err := payslipTemplate.Execute(&body, in); err != nil {
		return Message{}, fmt.Errorf("render payslip email: %w", err)
	}
	orgName := in.OrganizationName
	if orgName == "" {
		orgName = "Your Company"
	}
	return Message{
		FromName:    orgName + " Payroll",
		To:          in.To,
		ToName:      in.EmployeeName,
		Subject:     "Your Payslip for " + in.MonthYear,
		HTMLBody:    body.String(),
		Attachments: []Attachment{in.Attachment},
	}, nil
}
