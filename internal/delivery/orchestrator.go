package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/encryption"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/mailer"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/statement"
)

// Delivery stages, used for metrics labels and error prefixes.
const (
	StageLoad      = "load"
	StageDirectory = "directory"
	StageRender    = "render"
	StageEncrypt   = "encrypt"
	StageSend      = "send"
	StageMark      = "mark"
)

// Result reports the outcome of one delivery attempt. A failed delivery never
// affects the payroll record it was attempted for.
type Result struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Stage     string `json:"-"`
}

type payrollStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payroll, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

type directoryReader interface {
	Employee(ctx context.Context, id uuid.UUID) (statement.Employee, error)
	Organization(ctx context.Context, id uuid.UUID) (statement.Organization, error)
}

type renderer interface {
	Render(ctx context.Context, p models.Payroll, emp statement.Employee, org statement.Organization) ([]byte, error)
}

type encrypter interface {
	Encrypt(plaintext []byte, keyMaterial string) ([]byte, error)
}

type Params struct {
	Payrolls  payrollStore
	Directory directoryReader
	Renderer  renderer
	// Cipher is required only when statements are encrypted.
	Cipher  encrypter
	Sender  mailer.Sender
	Config  config.DeliveryConfig
	Metrics *metrics.PayrollMetrics
	Logger  *logger.Logger
}

// Orchestrator renders, optionally encrypts, and emails payslips for
// committed payroll records.
type Orchestrator struct {
	payrolls  payrollStore
	directory directoryReader
	renderer  renderer
	cipher    encrypter
	sender    mailer.Sender
	cfg       config.DeliveryConfig
	metrics   *metrics.PayrollMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewOrchestrator(p Params) (*Orchestrator, error) {
	switch {
	case p.Payrolls == nil:
		return nil, fmt.Errorf("payroll store required")
	case p.Directory == nil:
		return nil, fmt.Errorf("directory required")
	case p.Renderer == nil:
		return nil, fmt.Errorf("renderer required")
	case p.Sender == nil:
		return nil, fmt.Errorf("sender required")
	case p.Config.EncryptStatements && p.Cipher == nil:
		return nil, fmt.Errorf("cipher required when statements are encrypted")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Orchestrator{
		payrolls:  p.Payrolls,
		directory: p.Directory,
		renderer:  p.Renderer,
		cipher:    p.Cipher,
		sender:    p.Sender,
		cfg:       p.Config,
		metrics:   p.Metrics,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// DeliverByID loads the record and delivers it. With onlyPending set, a
// record that is already flagged as sent is skipped so redelivered events do
// not email the employee twice.
func (o *Orchestrator) DeliverByID(ctx context.Context, id uuid.UUID, onlyPending bool) Result {
	start := o.now()
	ctx = o.logg.WithPayrollID(ctx, id.String())

	p, err := o.payrolls.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
		}
		return o.fail(ctx, StageLoad, err, start)
	}
	if onlyPending && p.EmailSent {
		o.logg.Info(ctx, "payslip already delivered")
		return Result{Delivered: true, Skipped: true}
	}
	return o.Deliver(ctx, p)
}

// Deliver sends the payslip for an already committed record. Every failure is
// logged and returned in the Result; the record is only touched to flag a
// successful send.
func (o *Orchestrator) Deliver(ctx context.Context, p *models.Payroll) (res Result) {
	start := o.now()
	if p == nil {
		return o.fail(ctx, StageLoad, errors.New("payroll record is nil"), start)
	}
	ctx = o.logg.WithFields(ctx, map[string]any{
		"payroll_id":      p.ID.String(),
		"organization_id": p.OrganizationID.String(),
	})
	defer func() {
		if r := recover(); r != nil {
			res = o.fail(ctx, res.Stage, fmt.Errorf("panic during delivery: %v", r), start)
		}
	}()

	res.Stage = StageDirectory
	emp, org, err := o.lookup(ctx, p)
	if err != nil {
		return o.fail(ctx, StageDirectory, err, start)
	}
	if emp.Email == "" {
		return o.fail(ctx, StageDirectory, pkgerrors.New(pkgerrors.CodeValidation, "employee has no email address"), start)
	}

	res.Stage = StageRender
	pdf, err := o.render(ctx, *p, emp, org)
	if err != nil {
		return o.fail(ctx, StageRender, err, start)
	}

	attachment := mailer.Attachment{
		Filename:    statement.FileName(emp.Name, p.MonthYear, false),
		ContentType: "application/pdf",
		Data:        pdf,
	}
	if o.cfg.EncryptStatements {
		res.Stage = StageEncrypt
		sealed, err := o.cipher.Encrypt(pdf, encryption.StatementKey(emp.Name, emp.Code))
		if err != nil {
			return o.fail(ctx, StageEncrypt, pkgerrors.Wrap(pkgerrors.CodeEncryption, err, "encrypt statement"), start)
		}
		attachment = mailer.Attachment{
			Filename:    statement.FileName(emp.Name, p.MonthYear, true),
			ContentType: "application/octet-stream",
			Data:        sealed,
		}
	}

	res.Stage = StageSend
	msg, err := mailer.NewPayslipMessage(mailer.PayslipEmail{
		To:               emp.Email,
		EmployeeName:     emp.Name,
		OrganizationName: org.Name,
		MonthYear:        p.MonthYear,
		Encrypted:        o.cfg.EncryptStatements,
		Attachment:       attachment,
	})
	if err != nil {
		return o.fail(ctx, StageSend, err, start)
	}
	messageID, err := o.send(ctx, msg)
	if err != nil {
		return o.fail(ctx, StageSend, err, start)
	}

	if err := o.payrolls.MarkEmailSent(ctx, p.ID, o.now()); err != nil {
		// The email is out; a missed flag only means the sweep may send again.
		o.logg.Error(ctx, "failed to flag payroll as sent", err)
		o.metrics.ObserveDelivery(metrics.DeliveryDelivered, StageMark, o.now().Sub(start))
		return Result{Delivered: true, MessageID: messageID, Stage: StageMark}
	}

	o.metrics.ObserveDelivery(metrics.DeliveryDelivered, "", o.now().Sub(start))
	o.logg.Info(o.logg.WithField(ctx, "message_id", messageID), "payslip delivered")
	return Result{Delivered: true, MessageID: messageID}
}

// Statement renders the unencrypted payslip for download and returns it with
// its attachment file name.
func (o *Orchestrator) Statement(ctx context.Context, p *models.Payroll) ([]byte, string, error) {
	emp, org, err := o.lookup(ctx, p)
	if err != nil {
		return nil, "", err
	}
	pdf, err := o.render(ctx, *p, emp, org)
	if err != nil {
		return nil, "", err
	}
	return pdf, statement.FileName(emp.Name, p.MonthYear, false), nil
}

func (o *Orchestrator) lookup(ctx context.Context, p *models.Payroll) (statement.Employee, statement.Organization, error) {
	lookupCtx, cancel := withTimeout(ctx, o.cfg.DirectoryTimeout)
	defer cancel()

	emp, err := o.directory.Employee(lookupCtx, p.EmployeeID)
	if err != nil {
		return statement.Employee{}, statement.Organization{}, err
	}
	org, err := o.directory.Organization(lookupCtx, p.OrganizationID)
	if err != nil {
		return statement.Employee{}, statement.Organization{}, err
	}
	return emp, org, nil
}

func (o *Orchestrator) render(ctx context.Context, p models.Payroll, emp statement.Employee, org statement.Organization) ([]byte, error) {
	renderCtx, cancel := withTimeout(ctx, o.cfg.RenderTimeout)
	defer cancel()
	pdf, err := o.renderer.Render(renderCtx, p, emp, org)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "render statement")
	}
	return pdf, nil
}

func (o *Orchestrator) send(ctx context.Context, msg mailer.Message) (string, error) {
	sendCtx, cancel := withTimeout(ctx, o.cfg.SendTimeout)
	defer cancel()
	id, err := o.sender.Send(sendCtx, msg)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send payslip email")
	}
	return id, nil
}

func (o *Orchestrator) fail(ctx context.Context, stage string, err error, start time.Time) Result {
	o.metrics.ObserveDelivery(metrics.DeliveryFailed, stage, o.now().Sub(start))
	o.logg.Error(o.logg.WithField(ctx, "stage", stage), "payslip delivery failed", err)
	return Result{
		Delivered: false,
		Error:     fmt.Sprintf("%s: %v", stage, err),
		Stage:     stage,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
