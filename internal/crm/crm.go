// Package crm owns the local policy, client and product collections and keeps
// them in step with the connected spreadsheet.
//
// Local state is authoritative: remote failures are reported as notices and
// never roll back a local change.
package crm

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/reconcile"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/maruel/ksid"
)

// Placeholder values for clients created from a saved policy.
const (
	PendingEmail = "pending@email.com"
	PendingPhone = "Pending"
	// UnknownProvider is the provider of products registered from a policy.
	UnknownProvider = "Unknown"
)

// Remote is the spreadsheet connection as seen by the coordinator.
type Remote interface {
	Connected() bool
	Connection() (*sheets.Connection, error)
	// Reauthorize refreshes the grant without user interaction.
	Reauthorize(ctx context.Context) error
}

// Persister stores each new snapshot.
type Persister interface {
	Save(clients []models.Client, policies []models.Policy, products []models.Product) error
}

// Snapshot is one immutable state of the three collections. Policies and
// clients are newest first.
type Snapshot struct {
	Clients  []models.Client  `json:"clients"`
	Policies []models.Policy  `json:"policies"`
	Products []models.Product `json:"products"`
}

func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		Clients:  slices.Clone(s.Clients),
		Policies: slices.Clone(s.Policies),
		Products: slices.Clone(s.Products),
	}
}

// Options configures a Coordinator.
type Options struct {
	Remote   Remote
	Notifier notice.Notifier
	// Store is optional.
	Store Persister
	// Initial is the starting state, typically loaded from Store.
	Initial *Snapshot
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator applies user actions to the local snapshot and forwards policy
// saves to the spreadsheet. Readers never block.
type Coordinator struct {
	remote   Remote
	notifier notice.Notifier
	store    Persister
	now      func() time.Time

	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// New returns a Coordinator.
func New(opts *Options) *Coordinator {
	c := &Coordinator{
		remote:   opts.Remote,
		notifier: opts.Notifier,
		store:    opts.Store,
		now:      opts.Now,
	}
	if c.notifier == nil {
		c.notifier = notice.Log{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	initial := &Snapshot{}
	if opts.Initial != nil {
		initial = opts.Initial.clone()
	}
	if initial.Clients == nil {
		initial.Clients = []models.Client{}
	}
	if initial.Policies == nil {
		initial.Policies = []models.Policy{}
	}
	if initial.Products == nil {
		initial.Products = []models.Product{}
	}
	c.snap.Store(initial)
	return c
}

// Snapshot returns the current state. The caller must not modify it.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snap.Load()
}

func (c *Coordinator) today() string {
	return c.now().Format(reconcile.DateLayout)
}

// update applies fn to a copy of the current snapshot and publishes it.
func (c *Coordinator) update(ctx context.Context, fn func(s *Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snap.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	c.snap.Store(next)
	if c.store != nil {
		if err := c.store.Save(next.Clients, next.Policies, next.Products); err != nil {
			slog.ErrorContext(ctx, "Failed to persist local snapshot", "err", err)
		}
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, level notice.Level, msg string, err error) {
	n := notice.New(level, msg)
	if err != nil {
		n.Code = string(models.CodeOf(err))
	}
	c.notifier.Notify(ctx, n)
}

func newID(prefix string) string {
	return prefix + ksid.NewID().String()
}
