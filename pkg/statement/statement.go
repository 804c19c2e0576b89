package statement

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorNetBand     = [3]int{232, 245, 233}
)

const (
	dateLayout   = "02 Jan 2006"
	pageMargin   = 18.0
	rowHeight    = 7.0
	contentWidth = 210.0 - 2*pageMargin
)

// Employee is the recipient block printed on a payslip.
type Employee struct {
	Name        string
	Code        string
	Email       string
	Designation string
}

// Organization is the issuer block printed on a payslip.
type Organization struct {
	Name          string
	Code          string
	Email         string
	Phone         string
	Website       string
	Address       string
	SignatoryName string
}

// Renderer turns payroll records into payslip PDFs.
type Renderer struct {
	currency string
}

func NewRenderer() *Renderer {
	return &Renderer{currency: "INR"}
}

// Render builds a single page payslip. The context is checked before and after layout.
func (r *Renderer) Render(ctx context.Context, p models.Payroll, emp Employee, org Organization) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(Title(p.MonthYear), true)
	pdf.SetCreator(org.Name, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	r.writeHeader(pdf, tr, org)
	r.writeTitle(pdf, tr, p)
	r.writeEmployee(pdf, tr, p, emp)
	r.writeLines(pdf, tr, "Earnings", p.Earnings, "Gross Earnings", p.GrossEarnings.StringFixed(2))
	r.writeLines(pdf, tr, "Deductions", p.Deductions, "Total Deductions", p.TotalDeductions.StringFixed(2))
	r.writeNet(pdf, tr, p)
	r.writeFooter(pdf, tr, p, org)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render payslip: %w", err)
	}
	return buf.Bytes(), nil
}

// Title is the document and email subject heading for a pay period.
func Title(monthYear string) string {
	return "Payslip for " + monthYear
}

func (r *Renderer) writeHeader(pdf *fpdf.Fpdf, tr func(string) string, org Organization) {
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(contentWidth, 9, tr(org.Name), "", 1, "L", false, 0, "")

	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.SetFont("Arial", "", 9)
	if org.Address != "" {
		pdf.MultiCell(contentWidth, 4.5, tr(org.Address), "", "L", false)
	}
	contact := joinNonEmpty(" | ", org.Email, org.Phone, org.Website)
	if contact != "" {
		pdf.CellFormat(contentWidth, 4.5, tr(contact), "", 1, "L", false, 0, "")
	}

	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.6)
	y := pdf.GetY() + 3
	pdf.Line(pageMargin, y, pageMargin+contentWidth, y)
	pdf.SetLineWidth(0.2)
	pdf.SetY(y + 4)
}

func (r *Renderer) writeTitle(pdf *fpdf.Fpdf, tr func(string) string, p models.Payroll) {
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(contentWidth, 8, tr(Title(p.MonthYear)), "", 1, "C", false, 0, "")
	pdf.Ln(3)
}

func (r *Renderer) writeEmployee(pdf *fpdf.Fpdf, tr func(string) string, p models.Payroll, emp Employee) {
	rows := [][2]string{
		{"Employee Name", emp.Name},
		{"Employee ID", orNA(emp.Code)},
		{"Designation", orNA(emp.Designation)},
		{"Pay Period", p.PeriodStart.Format(dateLayout) + " - " + p.PeriodEnd.Format(dateLayout)},
		{"Paid Days", fmt.Sprintf("%d", p.PaidDays)},
		{"Loss of Pay Days", fmt.Sprintf("%d", p.LossOfPayDays)},
		{"Pay Date", p.PayDate.Format(dateLayout)},
	}

	labelWidth := contentWidth * 0.35
	for i, row := range rows {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(labelWidth, rowHeight, tr(row[0]), "", 0, "L", fill, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(contentWidth-labelWidth, rowHeight, tr(row[1]), "", 1, "L", fill, 0, "")
	}
	pdf.Ln(5)
}

func (r *Renderer) writeLines(pdf *fpdf.Fpdf, tr func(string) string, heading string, items models.LineItems, totalLabel, total string) {
	amountWidth := contentWidth * 0.3
	typeWidth := contentWidth - amountWidth

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(typeWidth, rowHeight+1, tr(heading), "", 0, "L", true, 0, "")
	pdf.CellFormat(amountWidth, rowHeight+1, "Amount ("+r.currency+")", "", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
	if len(items) == 0 {
		pdf.CellFormat(contentWidth, rowHeight, "None", "B", 1, "L", false, 0, "")
	}
	for i, item := range items {
		fill := i%2 == 1
		pdf.CellFormat(typeWidth, rowHeight, tr(item.Type), "", 0, "L", fill, 0, "")
		pdf.CellFormat(amountWidth, rowHeight, item.Amount.StringFixed(2), "", 1, "R", fill, 0, "")
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(typeWidth, rowHeight, tr(totalLabel), "T", 0, "L", false, 0, "")
	pdf.CellFormat(amountWidth, rowHeight, total, "T", 1, "R", false, 0, "")
	pdf.Ln(4)
}

func (r *Renderer) writeNet(pdf *fpdf.Fpdf, tr func(string) string, p models.Payroll) {
	pdf.SetFillColor(colorNetBand[0], colorNetBand[1], colorNetBand[2])
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(contentWidth*0.7, rowHeight+3, "Net Payable", "", 0, "L", true, 0, "")
	pdf.CellFormat(contentWidth*0.3, rowHeight+3, r.currency+" "+p.NetPayable.StringFixed(2), "", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "I", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.MultiCell(contentWidth, 5.5, tr("Amount in words: "+p.AmountInWords), "", "L", false)
	pdf.Ln(4)
}

func (r *Renderer) writeFooter(pdf *fpdf.Fpdf, tr func(string) string, p models.Payroll, org Organization) {
	if p.Notes != nil && strings.TrimSpace(*p.Notes) != "" {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(contentWidth, 6, "Notes", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(contentWidth, 5, tr(*p.Notes), "", "L", false)
		pdf.Ln(4)
	}

	pdf.Ln(12)
	signatory := orNA(org.SignatoryName)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(contentWidth, 5, tr(signatory), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(contentWidth, 5, "Authorized Signatory", "", 1, "R", false, 0, "")

	pdf.Ln(6)
	pdf.CellFormat(contentWidth, 4, "This is a system generated payslip.", "", 1, "C", false, 0, "")
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, sep)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// FileName is the attachment name for a payslip, e.g. Payslip_Priya_Sharma_January_2024.pdf.
func FileName(employeeName, monthYear string, encrypted bool) string {
	name := "Payslip_" + underscore(employeeName) + "_" + underscore(monthYear) + ".pdf"
	if encrypted {
		name += ".enc"
	}
	return name
}

func underscore(s string) string {
	return strings.Join(strings.Fields(s), "_")
}
