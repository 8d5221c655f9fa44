package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/notification"
	"github.com/compass/compass/internal/platform/telemetry"
)

// reminderNames is how many patient names one reminder lists.
const reminderNames = 3

// ReminderResult summarises one reminder run in one tenant.
type ReminderResult struct {
	Tenant  string `json:"tenant"`
	Overdue int    `json:"overdue"`
	ASHAs   int    `json:"ashas"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	// Skipped counts ASHAs without a registered device or an active account.
	Skipped int `json:"skipped"`
}

// FollowUpReminder pushes a daily digest of overdue follow-ups to every ASHA
// with overdue patients.
type FollowUpReminder struct {
	repo     Repository
	staff    StaffDirectory
	notifier *notification.Manager
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	tenants func(ctx context.Context) ([]string, error)
	runIn   func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

	scheduler *gocron.Scheduler
}

func NewFollowUpReminder(pool *pgxpool.Pool, repo Repository, dir StaffDirectory, notifier *notification.Manager, metrics *telemetry.Metrics, logger zerolog.Logger) *FollowUpReminder {
	return &FollowUpReminder{
		repo:     repo,
		staff:    dir,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With().Str("component", "followup-reminder").Logger(),
		now:      time.Now,
		tenants: func(ctx context.Context) ([]string, error) {
			return db.ListTenants(ctx, pool)
		},
		runIn: func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
			return db.RunInTenant(ctx, pool, tenant, fn)
		},
	}
}

// Start schedules RunAll on the cron expression expr.
func (r *FollowUpReminder) Start(expr string) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Cron(expr).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := r.RunAll(ctx); err != nil {
			r.logger.Error().Err(err).Msg("follow-up reminder run failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule follow-up reminders %q: %w", expr, err)
	}
	s.StartAsync()
	r.scheduler = s
	r.logger.Info().Str("cron", expr).Msg("follow-up reminder scheduled")
	return nil
}

func (r *FollowUpReminder) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

// RunAll runs the reminder in every tenant. A failing tenant does not stop
// the others; their errors are joined.
func (r *FollowUpReminder) RunAll(ctx context.Context) error {
	tenants, err := r.tenants(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, tenant := range tenants {
		err := r.runIn(ctx, tenant, func(ctx context.Context) error {
			_, err := r.RunTenant(ctx)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
		}
	}
	return errors.Join(errs...)
}

// RunTenant sends the reminders for the tenant in ctx. Follow-ups scheduled
// before today are overdue.
func (r *FollowUpReminder) RunTenant(ctx context.Context) (*ReminderResult, error) {
	res := &ReminderResult{Tenant: db.TenantFromContext(ctx)}
	yesterday := dateOf(r.now()).AddDate(0, 0, -1)
	due, err := r.repo.ListDueFollowUps(ctx, Scope{}, yesterday)
	if err != nil {
		return nil, err
	}
	res.Overdue = len(due)

	byASHA := map[uuid.UUID][]*DueFollowUp{}
	var order []uuid.UUID
	for _, d := range due {
		if d.ASHAID == nil {
			continue
		}
		if _, ok := byASHA[*d.ASHAID]; !ok {
			order = append(order, *d.ASHAID)
		}
		byASHA[*d.ASHAID] = append(byASHA[*d.ASHAID], d)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	res.ASHAs = len(order)

	for _, id := range order {
		r.remind(ctx, id, byASHA[id], res)
	}
	r.logger.Info().
		Str("tenant", res.Tenant).
		Int("overdue", res.Overdue).
		Int("ashas", res.ASHAs).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("follow-up reminders processed")
	return res, nil
}

func (r *FollowUpReminder) remind(ctx context.Context, ashaID uuid.UUID, items []*DueFollowUp, res *ReminderResult) {
	asha, err := r.staff.GetStaff(ctx, ashaID)
	if err != nil {
		r.logger.Warn().Err(err).Str("asha_id", ashaID.String()).Msg("ASHA for overdue follow-ups not found")
		res.Skipped++
		return
	}
	if !asha.Active || !asha.HasDevice() {
		res.Skipped++
		return
	}

	_, err = r.notifier.SendFromTemplate(ctx, notification.TemplateFollowUpOverdue, map[string]string{
		"asha_name": asha.Name,
		"count":     strconv.Itoa(len(items)),
		"patients":  patientNames(items, reminderNames),
	}, asha.ID.String(), asha.DeviceToken)
	r.metrics.ReminderSent(err == nil)
	if err != nil {
		res.Failed++
		r.logger.Warn().Err(err).Str("asha_id", ashaID.String()).Msg("failed to send follow-up reminder")
		return
	}
	res.Sent++
}

// patientNames lists the first n distinct patient names and how many more
// there are.
func patientNames(items []*DueFollowUp, n int) string {
	var names []string
	seen := map[uuid.UUID]bool{}
	for _, d := range items {
		if seen[d.PatientID] {
			continue
		}
		seen[d.PatientID] = true
		names = append(names, d.PatientName)
	}
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:n], ", "), len(names)-n)
}
