package engine

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// ApprovalHandler reacts to an external setup-approval decision. approved=false means reject.
type ApprovalHandler func(setupID string, approved bool)

// ReloadHandler reacts to a strategy being created, edited, or toggled from
// outside the engine process.
type ReloadHandler func(strategyID string)

// Notifier subscribes to Postgres LISTEN/NOTIFY channels driving external
// setup approval/rejection and strategy hot-reload, so callers don't have to
// poll. Grounded directly on internal/dashboard/events.go's EventListener:
// the same pq.NewListener reconnect loop with exponential-capped retry delay
// and setupListeners/handleNotifications shape, retargeted from broadcasting
// trade/position events to a dashboard's WebSocket clients, to driving the
// engine's own approveSetup/rejectSetup/reloadStrategy calls.
type Notifier struct {
	dbURL    string
	logger   *log.Logger
	shutdown chan struct{}

	onApproval ApprovalHandler
	onReload   ReloadHandler
}

// NewNotifier creates a Notifier. onApproval fires for "setup_approved"/
// "setup_rejected" channel notifications; onReload fires for
// "strategy_updated".
func NewNotifier(dbURL string, logger *log.Logger, onApproval ApprovalHandler, onReload ReloadHandler) *Notifier {
	return &Notifier{
		dbURL:      dbURL,
		logger:     logger,
		shutdown:   make(chan struct{}),
		onApproval: onApproval,
		onReload:   onReload,
	}
}

// Start begins listening for database notifications in a background goroutine.
func (n *Notifier) Start(ctx context.Context) {
	go n.listenLoop(ctx)
}

func (n *Notifier) listenLoop(ctx context.Context) {
	defer n.logger.Println("engine: notifier shutting down")

	minRetryDelay := 100 * time.Millisecond
	maxRetryDelay := 10 * time.Second
	retryDelay := minRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		default:
		}

		listener := pq.NewListener(n.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				n.logger.Printf("engine: notifier: %v", err)
			}
		})

		if err := n.setupListeners(listener); err != nil {
			n.logger.Printf("engine: notifier: failed to setup listeners: %v", err)
			listener.Close()
			retryDelay = maxRetryDelay
			time.Sleep(retryDelay)
			continue
		}

		retryDelay = minRetryDelay

		if err := n.handleNotifications(ctx, listener); err != nil {
			n.logger.Printf("engine: notifier: %v", err)
		}

		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		default:
			time.Sleep(retryDelay)
		}
	}
}

func (n *Notifier) setupListeners(listener *pq.Listener) error {
	channels := []string{"setup_approved", "setup_rejected", "strategy_updated"}
	for _, channel := range channels {
		if err := listener.Listen(channel); err != nil {
			return err
		}
		n.logger.Printf("engine: notifier: listening on channel %q", channel)
	}
	return nil
}

func (n *Notifier) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.shutdown:
			return nil
		case notification := <-listener.Notify:
			if notification == nil {
				return nil
			}
			switch notification.Channel {
			case "setup_approved":
				if n.onApproval != nil {
					n.onApproval(notification.Extra, true)
				}
			case "setup_rejected":
				if n.onApproval != nil {
					n.onApproval(notification.Extra, false)
				}
			case "strategy_updated":
				if n.onReload != nil {
					n.onReload(notification.Extra)
				}
			}
		}
	}
}

// Stop stops the notifier.
func (n *Notifier) Stop() {
	close(n.shutdown)
}
