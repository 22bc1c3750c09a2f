// Package workspace assembles the session-scoped realtime state for one
// approved dashboard connection: the table mirrors and the presence
// tracker. A workspace is built by the session gate when a session becomes
// approved and closed when it ends; nothing here outlives its session.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/larder-hq/larder/internal/categories"
	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/mirror"
	"github.com/larder-hq/larder/internal/presence"
	"github.com/larder-hq/larder/internal/profiles"
	"github.com/larder-hq/larder/internal/stock"
)

// Deps carries the shared services a workspace builds its mirrors from.
type Deps struct {
	Stocks     *stock.Service
	Categories *categories.Service
	Profiles   *profiles.Service
	Feed       mirror.Subscriber
	Channels   presence.ChannelFactory
	Logger     *slog.Logger
}

// Workspace is the per-session container of mirrors and presence. It
// satisfies gate.Workspace.
type Workspace struct {
	logger   *slog.Logger
	identity presence.Identity
	role     gate.Role

	stocks     *mirror.Mirror[stock.Item]
	expiring   *mirror.Mirror[stock.Item]
	lowStock   *mirror.Mirror[stock.Item]
	categories *mirror.Mirror[categories.Category]
	profiles   *mirror.Mirror[profiles.Profile]
	tracker    *presence.Tracker

	colMu sync.Mutex
	col   *collate.Collator

	closeOnce sync.Once
}

// Snapshot is the assembled dashboard state pushed to the client.
type Snapshot struct {
	Stocks     []stock.Item          `json:"stocks"`
	Expiring   []stock.Item          `json:"expiring"`
	LowStock   []stock.Item          `json:"low_stock"`
	Categories []categories.Category `json:"categories"`
	Profiles   []profiles.Profile    `json:"profiles,omitempty"`
	Online     map[string]bool       `json:"online"`
	Loading    bool                  `json:"loading"`
}

// Build constructs and starts a workspace for an approved session. The
// stock mirrors must seed successfully; presence join failures degrade to
// an empty online map rather than failing the build. onChange fires after
// every mirror patch and presence sync.
func (d Deps) Build(ctx context.Context, identity presence.Identity, role gate.Role, onChange func()) (*Workspace, error) {
	ws := &Workspace{
		logger:   d.Logger,
		identity: identity,
		role:     role,
		col:      collate.New(language.English, collate.Loose),
	}

	ws.stocks = mirror.New(mirror.Config[stock.Item]{
		Table:    stock.Table,
		Strategy: mirror.StrategyPatch,
		Fetch:    d.Stocks.List,
		Feed:     d.Feed,
		Logger:   d.Logger,
		Less:     func(a, b stock.Item) bool { return ws.compare(a.Name, b.Name) },
		OnChange: onChange,
	})
	ws.expiring = mirror.New(mirror.Config[stock.Item]{
		Table:    stock.Table,
		Strategy: mirror.StrategyRefetch,
		Fetch:    d.Stocks.ListByExpiry,
		Feed:     d.Feed,
		Logger:   d.Logger,
		Less:     func(a, b stock.Item) bool { return a.Expiry.Before(b.Expiry) },
		OnChange: onChange,
	})
	ws.lowStock = mirror.New(mirror.Config[stock.Item]{
		Table:    stock.Table,
		Strategy: mirror.StrategyRefetch,
		Fetch:    d.Stocks.ListLowStock,
		Feed:     d.Feed,
		Logger:   d.Logger,
		Less:     func(a, b stock.Item) bool { return a.Quantity < b.Quantity },
		OnChange: onChange,
	})
	ws.categories = mirror.New(mirror.Config[categories.Category]{
		Table:    categories.Table,
		Strategy: mirror.StrategyRefetch,
		Fetch:    d.Categories.List,
		Feed:     d.Feed,
		Logger:   d.Logger,
		Less:     func(a, b categories.Category) bool { return ws.compare(a.Name, b.Name) },
		OnChange: onChange,
	})
	if role == gate.RoleAdmin {
		ws.profiles = mirror.New(mirror.Config[profiles.Profile]{
			Table:    profiles.Table,
			Strategy: mirror.StrategyPatch,
			Fetch:    d.Profiles.List,
			Feed:     d.Feed,
			Logger:   d.Logger,
			Less:     func(a, b profiles.Profile) bool { return ws.compare(a.Email, b.Email) },
			OnChange: onChange,
		})
	}
	ws.tracker = presence.NewTracker(d.Channels, d.Logger, onChange)

	for _, m := range []interface{ Start(context.Context) error }{ws.stocks, ws.expiring, ws.lowStock} {
		if err := m.Start(ctx); err != nil {
			ws.Close(ctx)
			return nil, fmt.Errorf("workspace: %w", err)
		}
	}
	if err := ws.categories.Start(ctx); err != nil {
		ws.Close(ctx)
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if ws.profiles != nil {
		if err := ws.profiles.Start(ctx); err != nil {
			ws.Close(ctx)
			return nil, fmt.Errorf("workspace: %w", err)
		}
	}

	if err := ws.tracker.Join(ctx, identity); err != nil && d.Logger != nil {
		d.Logger.Warn("presence join", slog.String("user_id", identity.UserID), slog.Any("error", err))
	}
	return ws, nil
}

// Close stops every mirror and leaves the presence topic. Idempotent.
func (w *Workspace) Close(ctx context.Context) {
	w.closeOnce.Do(func() {
		w.tracker.Leave(ctx)
		w.stocks.Stop()
		w.expiring.Stop()
		w.lowStock.Stop()
		w.categories.Stop()
		if w.profiles != nil {
			w.profiles.Stop()
		}
	})
}

// Identity returns the identity this workspace was built for.
func (w *Workspace) Identity() presence.Identity {
	return w.identity
}

// Role returns the role the workspace was built at.
func (w *Workspace) Role() gate.Role {
	return w.role
}

// Presence exposes the session's presence tracker.
func (w *Workspace) Presence() *presence.Tracker {
	return w.tracker
}

// Snapshot assembles the current dashboard state from all mirrors.
func (w *Workspace) Snapshot() Snapshot {
	snap := Snapshot{
		Stocks:     w.stocks.Snapshot(),
		Expiring:   w.expiring.Snapshot(),
		LowStock:   w.lowStock.Snapshot(),
		Categories: w.categories.Snapshot(),
		Online:     w.tracker.OnlineUsers(),
		Loading:    w.stocks.Loading() || w.expiring.Loading() || w.lowStock.Loading() || w.categories.Loading(),
	}
	if w.profiles != nil {
		snap.Profiles = w.profiles.Snapshot()
		snap.Loading = snap.Loading || w.profiles.Loading()
	}
	return snap
}

// compare orders names with locale-aware collation. The collator keeps
// internal buffers, so calls are serialized.
func (w *Workspace) compare(a, b string) bool {
	w.colMu.Lock()
	defer w.colMu.Unlock()
	return w.col.CompareString(a, b) < 0
}
