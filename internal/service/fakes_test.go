package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zamcash/loan-servicing/internal/allocation"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

// fakeStore is an in-memory implementation of the repository interfaces for
// service tests.
type fakeStore struct {
	mu sync.Mutex

	schedulesByLoan map[int64]*models.RepaymentSchedule
	paymentsByRef   map[string]*models.PaymentTransaction
	paymentsByID    map[int64]*models.PaymentTransaction
	tasks           []models.ReconciliationTask
	historyByLoan   map[int64][]models.ArrearsClassificationHistory
	nextID          int64

	// applyConflicts makes the next N version-checked writes fail
	applyConflicts int
}

var (
	_ ScheduleRepository       = (*fakeStore)(nil)
	_ PaymentRepository        = (*fakeStore)(nil)
	_ ClassificationRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedulesByLoan: make(map[int64]*models.RepaymentSchedule),
		paymentsByRef:   make(map[string]*models.PaymentTransaction),
		paymentsByID:    make(map[int64]*models.PaymentTransaction),
		historyByLoan:   make(map[int64][]models.ArrearsClassificationHistory),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) GetByLoanID(ctx context.Context, loanID int64) (*models.RepaymentSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedulesByLoan[loanID]
	if !ok {
		return nil, fmt.Errorf("%w: schedule for loan %d", apperrors.ErrNotFound, loanID)
	}
	cp := *schedule
	cp.Installments = append([]models.Installment(nil), schedule.Installments...)
	return &cp, nil
}

func (f *fakeStore) CreateWithInstallments(ctx context.Context, schedule *models.RepaymentSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedulesByLoan[schedule.LoanID]; ok {
		return fmt.Errorf("%w: schedule for loan %d", apperrors.ErrAlreadyExists, schedule.LoanID)
	}
	schedule.ID = f.id()
	for i := range schedule.Installments {
		schedule.Installments[i].ID = f.id()
		schedule.Installments[i].ScheduleID = schedule.ID
		schedule.Installments[i].Version = 1
	}
	cp := *schedule
	cp.Installments = append([]models.Installment(nil), schedule.Installments...)
	f.schedulesByLoan[schedule.LoanID] = &cp
	return nil
}

func (f *fakeStore) ListInstallments(ctx context.Context, loanID int64) ([]models.Installment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedulesByLoan[loanID]
	if !ok {
		return nil, nil
	}
	return append([]models.Installment(nil), schedule.Installments...), nil
}

func (f *fakeStore) ListActiveLoanIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for loanID, schedule := range f.schedulesByLoan {
		for _, inst := range schedule.Installments {
			if inst.Outstanding().GreaterThan(allocation.Tolerance) {
				ids = append(ids, loanID)
				break
			}
		}
	}
	return ids, nil
}

// storeInstallments writes updated installments back with a version check
func (f *fakeStore) storeInstallments(installments []models.Installment) error {
	if f.applyConflicts > 0 {
		f.applyConflicts--
		return apperrors.ErrVersionConflict
	}
	for _, updated := range installments {
		for _, schedule := range f.schedulesByLoan {
			for i := range schedule.Installments {
				if schedule.Installments[i].ID == updated.ID {
					if schedule.Installments[i].Version != updated.Version {
						return apperrors.ErrVersionConflict
					}
					updated.Version++
					schedule.Installments[i] = updated
				}
			}
		}
	}
	return nil
}

func (f *fakeStore) GetByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.paymentsByRef[reference]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", apperrors.ErrNotFound, reference)
	}
	cp := *payment
	return &cp, nil
}

func (f *fakeStore) ApplyPayment(ctx context.Context, payment *models.PaymentTransaction, installments []models.Installment, task *models.ReconciliationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.paymentsByRef[payment.TransactionReference]; ok {
		return fmt.Errorf("%w: payment %s", apperrors.ErrAlreadyExists, payment.TransactionReference)
	}
	if err := f.storeInstallments(installments); err != nil {
		return err
	}
	payment.ID = f.id()
	payment.CreatedAt = time.Now()
	cp := *payment
	f.paymentsByRef[payment.TransactionReference] = &cp
	f.paymentsByID[payment.ID] = &cp
	if task != nil {
		task.ID = f.id()
		task.PaymentTransactionID = payment.ID
		task.CreatedAt = time.Now()
		f.tasks = append(f.tasks, *task)
	}
	return nil
}

func (f *fakeStore) CreateTask(ctx context.Context, task *models.ReconciliationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.paymentsByID[task.PaymentTransactionID]; !ok {
		return fmt.Errorf("%w: payment %d", apperrors.ErrNotFound, task.PaymentTransactionID)
	}
	for _, existing := range f.tasks {
		if existing.PaymentTransactionID == task.PaymentTransactionID && existing.TaskType == task.TaskType {
			return fmt.Errorf("%w: %s task for payment %d", apperrors.ErrAlreadyExists, task.TaskType, task.PaymentTransactionID)
		}
	}
	task.ID = f.id()
	task.CreatedAt = time.Now()
	f.tasks = append(f.tasks, *task)
	return nil
}

func (f *fakeStore) MarkReconciled(ctx context.Context, paymentID int64, reconciledBy string, reconciledAt time.Time) (*models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.paymentsByID[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", apperrors.ErrNotFound, paymentID)
	}
	payment.IsReconciled = true
	payment.ReconciledBy = reconciledBy
	payment.ReconciledAt = &reconciledAt
	payment.Status = models.TransactionReconciled
	cp := *payment
	return &cp, nil
}

func (f *fakeStore) ListUnreconciled(ctx context.Context) ([]models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentTransaction
	for _, payment := range f.paymentsByID {
		if !payment.IsReconciled {
			out = append(out, *payment)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestByLoanID(ctx context.Context, loanID int64) (*models.ArrearsClassificationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.historyByLoan[loanID]
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no classification history for loan %d", apperrors.ErrNotFound, loanID)
	}
	cp := rows[len(rows)-1]
	return &cp, nil
}

func (f *fakeStore) RecordClassification(ctx context.Context, history *models.ArrearsClassificationHistory, overdue []models.Installment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.storeInstallments(overdue); err != nil {
		return err
	}
	history.ID = f.id()
	f.historyByLoan[history.LoanID] = append(f.historyByLoan[history.LoanID], *history)
	return nil
}

func (f *fakeStore) UpdateOverdueFlags(ctx context.Context, overdue []models.Installment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeInstallments(overdue)
}

func (f *fakeStore) Summary(ctx context.Context) (models.ArrearsSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := models.ArrearsSummary{Buckets: make(map[models.Classification]int)}
	for loanID := range f.schedulesByLoan {
		class := models.ClassCurrent
		if rows := f.historyByLoan[loanID]; len(rows) > 0 {
			class = rows[len(rows)-1].NewClassification
		}
		summary.Buckets[class]++
		summary.Total++
	}
	return summary, nil
}

// recordingSink captures audit events and can be told to fail
type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (s *recordingSink) Record(ctx context.Context, event models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

// recordingNotifier captures notifications and can be told to fail
type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (n *recordingNotifier) Send(ctx context.Context, loanID, clientID int64, kind string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.kinds = append(n.kinds, kind)
	return nil
}
