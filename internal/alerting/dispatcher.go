package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// ErrChannelDisabled marks a delivery skipped because its channel has no sender.
var ErrChannelDisabled = errors.New("channel disabled")

// Contacts resolves subscriber contact data and channel preferences.
type Contacts interface {
	GetSubscriber(ctx context.Context, id string) (storage.Subscriber, error)
	GetChannels(ctx context.Context, subscriberID string, network solana.Network, voteAddress string) (storage.Channels, bool, error)
}

// DeliveryLog persists one row per delivery attempt.
type DeliveryLog interface {
	InsertNotification(ctx context.Context, rec storage.NotificationRecord) error
}

// DeliveryObserver is told the outcome of every attempt.
type DeliveryObserver func(channel Channel, signal Signal, status string)

// DispatcherOptions tunes the dispatcher.
type DispatcherOptions struct {
	SendTimeout time.Duration
	Observer    DeliveryObserver
}

// Dispatcher fans a notification out to each subscriber's enabled channels.
type Dispatcher struct {
	contacts Contacts
	log      DeliveryLog
	senders  map[Channel]Sender
	opts     DispatcherOptions
	logger   zerolog.Logger
}

// NewDispatcher wires senders by channel. A missing sender disables its channel; log may be nil.
func NewDispatcher(opts DispatcherOptions, contacts Contacts, log DeliveryLog, senders map[Channel]Sender, logger zerolog.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	registered := make(map[Channel]Sender, len(senders))
	for ch, s := range senders {
		if s != nil {
			registered[ch] = s
		}
	}
	return &Dispatcher{
		contacts: contacts,
		log:      log,
		senders:  registered,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Enabled reports whether a sender is registered for the channel.
func (d *Dispatcher) Enabled(ch Channel) bool {
	_, ok := d.senders[ch]
	return ok
}

type delivery struct {
	channel      Channel
	subscriberID string
	address      string
}

// Notify delivers to every recipient. Failures on one delivery never stop the rest;
// the joined error reports them.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	var deliveries []delivery
	for _, id := range n.Discord {
		ds, err := d.discordDeliveries(ctx, n, id)
		if err != nil {
			d.logger.Warn().Err(err).Str("subscriber", id).Msg("读取订阅者失败")
			continue
		}
		deliveries = append(deliveries, ds...)
	}
	for _, id := range n.Telegram {
		deliveries = append(deliveries, delivery{channel: ChannelTelegram, subscriberID: id, address: id})
	}

	var errs []error
	for _, dl := range deliveries {
		if err := d.deliver(ctx, n, dl); err != nil && !errors.Is(err, ErrChannelDisabled) {
			errs = append(errs, err)
		}
	}

	d.logger.Info().
		Str("signal", string(n.Signal)).
		Str("network", string(n.Payload.Network)).
		Str("vote", n.Payload.VoteAddress).
		Int("deliveries", len(deliveries)).
		Int("failed", len(errs)).
		Msg("notification dispatched")
	return errors.Join(errs...)
}

func (d *Dispatcher) discordDeliveries(ctx context.Context, n Notification, id string) ([]delivery, error) {
	sub, err := d.contacts.GetSubscriber(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	channels, found, err := d.contacts.GetChannels(ctx, id, n.Payload.Network, n.Payload.VoteAddress)
	if err != nil {
		return nil, err
	}
	if !found {
		channels = storage.DefaultChannels()
	}

	var out []delivery
	if channels.DiscordDM {
		out = append(out, delivery{channel: ChannelDiscordDM, subscriberID: id, address: id})
	}
	if channels.Email && sub.HasEmail() {
		out = append(out, delivery{channel: ChannelEmail, subscriberID: id, address: sub.Email})
	}
	if channels.SMS && sub.HasPhone() {
		out = append(out, delivery{channel: ChannelSMS, subscriberID: id, address: sub.Phone})
	}
	if channels.Call && sub.HasPhone() && n.Signal == SignalDelinquent {
		out = append(out, delivery{channel: ChannelCall, subscriberID: id, address: sub.Phone})
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification, dl delivery) error {
	sender, ok := d.senders[dl.channel]
	if !ok {
		d.record(ctx, n, dl, storage.DeliverySkipped, ErrChannelDisabled)
		return ErrChannelDisabled
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	err := sender.Send(sendCtx, dl.address, Render(n.Signal, dl.channel, n.Payload))
	if err != nil {
		err = fmt.Errorf("%s to %s: %w", dl.channel, dl.subscriberID, err)
		d.logger.Warn().Err(err).
			Str("signal", string(n.Signal)).
			Str("channel", string(dl.channel)).
			Msg("告警发送失败")
		d.record(ctx, n, dl, storage.DeliveryFailed, err)
		return err
	}
	d.record(ctx, n, dl, storage.DeliverySent, nil)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, n Notification, dl delivery, status string, sendErr error) {
	if d.opts.Observer != nil {
		d.opts.Observer(dl.channel, n.Signal, status)
	}
	if d.log == nil {
		return
	}
	rec := storage.NotificationRecord{
		ID:           uuid.New(),
		Signal:       string(n.Signal),
		Channel:      string(dl.channel),
		SubscriberID: dl.subscriberID,
		Network:      n.Payload.Network,
		VoteAddress:  n.Payload.VoteAddress,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		rec.Error = &msg
	}
	if err := d.log.InsertNotification(ctx, rec); err != nil {
		d.logger.Warn().Err(err).Msg("record notification failed")
	}
}

var _ Notifier = (*Dispatcher)(nil)
