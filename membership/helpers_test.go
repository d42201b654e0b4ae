package membership_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/core/store"
	"github.com/shifa/membership-engine/membership"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var committee = core.Actor{ID: "secretary", Kind: core.ActorCommittee}

// recordingSink captures notifications and can be told to fail.
type recordingSink struct {
	mu    sync.Mutex
	notes []core.Notification
	fail  bool
}

func (s *recordingSink) Send(_ context.Context, n core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("mail server unavailable")
	}
	s.notes = append(s.notes, n)
	return nil
}

func (s *recordingSink) byTemplate(t core.TemplateKey) []core.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Notification
	for _, n := range s.notes {
		if n.Template == t {
			out = append(out, n)
		}
	}
	return out
}

// clock is a settable core.Clock.
type clock struct{ day core.Date }

func (c *clock) Today() core.Date { return c.day }
func (c *clock) Now() time.Time   { return c.day.Time }
func (c *clock) set(s string)     { c.day = core.MustParseDate(s) }

type env struct {
	t          *testing.T
	ctx        context.Context
	store      *store.Memory
	accounting *store.Accounting
	sink       *recordingSink
	clock      *clock
	deps       membership.Deps

	lifecycle  *membership.Lifecycle
	invoicer   *membership.Invoicer
	arrears    *membership.ArrearsMonitor
	dependents *membership.Dependents
	claims     *membership.Claims
}

func newEnv(t *testing.T, today string) *env {
	t.Helper()
	e := &env{
		t:          t,
		ctx:        context.Background(),
		store:      store.NewMemory(),
		accounting: store.NewAccounting(),
		sink:       &recordingSink{},
		clock:      &clock{day: core.MustParseDate(today)},
	}
	e.deps = membership.Deps{
		Store:      e.store,
		Accounting: e.accounting,
		Contacts:   e.accounting,
		Fund: core.StaticFund{Settings: &core.FundSettings{
			Total: core.NewMoneyFromInt(10000, core.DefaultCurrency),
		}},
		Clock:  e.clock,
		Policy: membership.DefaultPolicy(),
		Logger: zerolog.Nop(),
	}
	e.deps.Notifier = membership.NewNotifier(e.sink, zerolog.Nop(), nil)
	e.lifecycle = membership.NewLifecycle(e.deps)
	e.invoicer = membership.NewInvoicer(e.deps)
	e.arrears = membership.NewArrearsMonitor(e.deps, e.lifecycle)
	e.dependents = membership.NewDependents(e.deps)
	e.claims = membership.NewClaims(e.deps)
	return e
}

// register creates a draft member with the given dependents.
func (e *env) register(name string, deps ...core.Dependent) *core.Member {
	e.t.Helper()
	m := &core.Member{Name: name, Email: name + "@example.org", Phone: "+230 5000 0000", Address: "Port Louis"}
	_, err := e.lifecycle.Register(e.ctx, committee, m, deps)
	require.NoError(e.t, err)
	return m
}

// activeMember registers and approves a member on the given day.
func (e *env) activeMember(name, approvedOn string, deps ...core.Dependent) *core.Member {
	e.t.Helper()
	today := e.clock.day
	m := e.register(name, deps...)
	e.clock.set(approvedOn)
	approved, _, err := e.lifecycle.Approve(e.ctx, m.ID, committee)
	require.NoError(e.t, err)
	e.clock.day = today
	return approved
}

func (e *env) member(id core.MemberID) *core.Member {
	e.t.Helper()
	m, err := e.store.GetMember(e.ctx, id)
	require.NoError(e.t, err)
	return m
}

func (e *env) payAll(m *core.Member) {
	e.t.Helper()
	for _, inv := range e.accounting.Invoices(m.PartnerRef) {
		require.NoError(e.t, e.accounting.SetPaymentState(context.Background(), inv.Ref, core.InvoicePaid))
	}
}

func mur(v int64) core.Money { return core.NewMoneyFromInt(v, core.DefaultCurrency) }
