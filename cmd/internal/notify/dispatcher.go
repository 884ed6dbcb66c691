package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lightlink/cmd/internal/outbox"
	"lightlink/cmd/internal/store"
)

// Presence answers whether an identity has a live session.
type Presence interface {
	Online(name string) bool
}

// Observer receives delivery results (metrics).
type Observer interface {
	PushResult(outcome string)
	ExternalFailure(kind string)
}

type nopObserver struct{}

func (nopObserver) PushResult(string)      {}
func (nopObserver) ExternalFailure(string) {}

// Dispatcher runs push, email and webhook side effects outside the store lock.
type Dispatcher struct {
	store    *store.Store
	push     PushTransport
	mail     Mailer
	relay    Relay
	presence Presence
	obs      Observer
	log      *slog.Logger

	fanout  int
	timeout time.Duration

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithPushTransport(t PushTransport) DispatcherOption {
	return func(d *Dispatcher) { d.push = t }
}

func WithMailer(m Mailer) DispatcherOption {
	return func(d *Dispatcher) { d.mail = m }
}

func WithRelay(r Relay) DispatcherOption {
	return func(d *Dispatcher) { d.relay = r }
}

func WithPresence(p Presence) DispatcherOption {
	return func(d *Dispatcher) { d.presence = p }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.obs = o
		}
	}
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithFanout bounds concurrent endpoint deliveries per identity.
func WithFanout(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.fanout = n
		}
	}
}

// NewDispatcher returns a Dispatcher. Without a mailer it logs instead of sending.
func NewDispatcher(st *store.Store, opts ...DispatcherOption) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:   st,
		obs:     nopObserver{},
		log:     slog.Default(),
		fanout:  8,
		timeout: 30 * time.Second,
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.mail == nil {
		d.mail = LogMailer{Log: d.log}
	}
	return d
}

// Dispatch starts the side effects of out in the background and returns immediately.
func (d *Dispatcher) Dispatch(out outbox.Outcome) {
	if len(out.Pushes) == 0 && len(out.Emails) == 0 && len(out.Relays) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()
		d.Run(ctx, out)
	}()
}

// Run executes the side effects of out synchronously.
func (d *Dispatcher) Run(ctx context.Context, out outbox.Outcome) {
	var wg sync.WaitGroup
	for _, p := range out.Pushes {
		if p.OfflineOnly && d.presence != nil && d.presence.Online(p.To) {
			continue
		}
		wg.Add(1)
		go func(p outbox.Push) {
			defer wg.Done()
			_, _ = d.PushTo(ctx, p.To, p.Title, p.Body)
		}(p)
	}
	for _, e := range out.Emails {
		wg.Add(1)
		go func(e outbox.Email) {
			defer wg.Done()
			if err := d.mail.Send(ctx, e.To, e.Subject, e.HTML); err != nil {
				d.obs.ExternalFailure("mail")
				d.log.Warn("mail.send.fail", "subject", e.Subject, "err", err)
			}
		}(e)
	}
	for _, r := range out.Relays {
		wg.Add(1)
		go func(r outbox.Relay) {
			defer wg.Done()
			if d.relay == nil {
				return
			}
			if err := d.relay.Post(ctx, r); err != nil && !errors.Is(err, ErrRelayDisabled) {
				d.obs.ExternalFailure("webhook")
				d.log.Warn("relay.post.fail", "title", r.Title, "err", err)
			}
		}(r)
	}
	wg.Wait()
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// PushTo delivers to every endpoint of name concurrently and prunes gone endpoints.
// It returns the number of endpoints that accepted the push.
func (d *Dispatcher) PushTo(ctx context.Context, name, title, body string) (int, error) {
	if d.push == nil {
		d.log.Debug("push.skip", "reason", "vapid_disabled", "to", name)
		return 0, nil
	}

	var subs []store.PushSubscription
	d.store.Read(func(st *store.State) {
		subs = append(subs, st.PushSubs[name]...)
	})
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: body, URL: "/"})
	if err != nil {
		return 0, err
	}

	results := make([]PushOutcome, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fanout)
	for i, sub := range subs {
		g.Go(func() error {
			res, err := d.push.Deliver(gctx, sub, payload)
			if err != nil {
				d.log.Warn("push.deliver.fail", "to", name, "err", err)
			}
			results[i] = res
			d.obs.PushResult(res.String())
			return nil
		})
	}
	_ = g.Wait()

	var gone []string
	delivered := 0
	for i, res := range results {
		switch res {
		case PushGone:
			gone = append(gone, EndpointKey(subs[i].Endpoint))
		case PushDelivered:
			delivered++
		}
	}
	if len(gone) > 0 {
		var pruned int
		err := d.store.Write(context.WithoutCancel(ctx), func(st *store.State) error {
			pruned = Prune(st, name, gone)
			return nil
		})
		if err != nil {
			return delivered, err
		}
		d.log.Info("push.prune", "to", name, "pruned", pruned)
	}
	return delivered, nil
}

// Close stops accepting new work and waits for in-flight side effects.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
