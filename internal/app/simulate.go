package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// SimulateOptions describe one synthetic notification.
type SimulateOptions struct {
	Signal      alerting.Signal
	Network     solana.Network
	VoteAddress string
	// SubscriberID narrows delivery to one subscriber; empty means every subscriber of the validator.
	SubscriberID string
	Slots        []uint64
	Balance      decimal.Decimal
	Threshold    decimal.Decimal
	Low          bool
}

// SimulateAlert 通过调度器发送一条模拟告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !knownSignal(opts.Signal) {
		return fmt.Errorf("unknown signal %q", opts.Signal)
	}

	store, closeStore, err := a.requireStore(ctx, "simulate an alert")
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher, err := a.newDispatcher(store, store, nil)
	if err != nil {
		return err
	}
	if !anyEnabled(dispatcher) {
		return errors.New("未配置任何告警通道")
	}

	note, err := a.simulatedNotification(ctx, store, opts)
	if err != nil {
		return err
	}
	if note.Recipients() == 0 {
		return errors.New("no subscriber to notify")
	}
	return dispatcher.Notify(ctx, note)
}

func (a *App) simulatedNotification(ctx context.Context, store *storage.Store, opts SimulateOptions) (alerting.Notification, error) {
	payload := alerting.NewPayload(opts.Network, opts.VoteAddress, "")
	switch opts.Signal {
	case alerting.SignalSkipSlots:
		payload.SkippedSlots = opts.Slots
		if len(payload.SkippedSlots) == 0 {
			return alerting.Notification{}, errors.New("--slots is required for skipSlots")
		}
	case alerting.SignalDelinquent:
		payload.Status = debounce.StatusDelinquent
	case alerting.SignalResolved:
		payload.Status = debounce.StatusCurrent
	case alerting.SignalBalance, alerting.SignalPDABalance:
		payload.BalanceSOL = opts.Balance
		payload.Threshold = opts.Threshold
		payload.IsLowBalance = opts.Low
	case alerting.SignalVoteCredit:
		payload.HasLowCredit = opts.Low
	}

	note := alerting.Notification{Signal: opts.Signal, Payload: payload}
	if opts.SubscriberID != "" {
		sub, err := store.GetSubscriber(ctx, opts.SubscriberID)
		if err != nil {
			return alerting.Notification{}, fmt.Errorf("subscriber %s: %w", opts.SubscriberID, err)
		}
		if sub.Kind == storage.KindTelegram {
			note.Telegram = []string{sub.ID}
		} else {
			note.Discord = []string{sub.ID}
		}
		return note, nil
	}

	tracked, err := store.GetTracked(ctx, opts.Network, opts.VoteAddress)
	if err != nil {
		return alerting.Notification{}, fmt.Errorf("validator %s: %w", opts.VoteAddress, err)
	}
	note.Discord = tracked.DiscordSubscribers
	note.Telegram = tracked.TelegramSubscribers
	return note, nil
}

func knownSignal(s alerting.Signal) bool {
	for _, known := range alerting.Signals {
		if s == known {
			return true
		}
	}
	return false
}

func anyEnabled(d *alerting.Dispatcher) bool {
	for _, ch := range alerting.AllChannels {
		if d.Enabled(ch) {
			return true
		}
	}
	return false
}
