package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/engine"
)

const DefaultTopic = "streamchat.notifications"

type Kind string

const (
	KindChatBound       Kind = "chat.bound"
	KindTitleChanged    Kind = "chat.title"
	KindProductsChanged Kind = "chat.products"
	KindStreamFinished  Kind = "chat.finished"
)

// Notification is the payload published for every side-channel update of a
// session, so that other processes can follow conversations as they happen.
type Notification struct {
	Kind     Kind           `json:"kind"`
	ChatID   string         `json:"chat_id"`
	Title    string         `json:"title,omitempty"`
	Products []chat.Product `json:"products,omitempty"`
	State    string         `json:"state,omitempty"`
	Messages int            `json:"messages,omitempty"`
	At       time.Time      `json:"at"`
}

// Bus publishes notifications on a watermill topic and dispatches them to
// handlers registered with AddHandler.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	topic      string
	closers    []func() error
}

type Option func(*Bus)

func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithCloser registers an extra resource released by Close, such as a redis
// client owned by the bus.
func WithCloser(f func() error) Option {
	return func(b *Bus) {
		if f != nil {
			b.closers = append(b.closers, f)
		}
	}
}

// NewBus wires a bus on top of any watermill publisher/subscriber pair.
func NewBus(pub message.Publisher, sub message.Subscriber, options ...Option) (*Bus, error) {
	if pub == nil || sub == nil {
		return nil, errors.New("notify: publisher and subscriber are required")
	}
	router, err := message.NewRouter(message.RouterConfig{}, NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "notify: create router")
	}
	b := &Bus{
		publisher:  pub,
		subscriber: sub,
		router:     router,
		topic:      DefaultTopic,
	}
	for _, o := range options {
		o(b)
	}
	return b, nil
}

// NewInMemoryBus returns a bus backed by a go channel pub/sub. Publish blocks
// until subscribers acked, which keeps notifications in order.
func NewInMemoryBus(options ...Option) (*Bus, error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(log.Logger))
	return NewBus(pubsub, pubsub, append([]Option{WithCloser(pubsub.Close)}, options...)...)
}

func (b *Bus) Topic() string {
	return b.topic
}

func (b *Bus) Publish(n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "notify: marshal notification")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(n.Kind))
	msg.Metadata.Set("chat_id", n.ChatID)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "notify: publish %s", n.Kind)
	}
	return nil
}

// AddHandler registers h for every notification on the bus topic. Handlers
// must be added before Run.
func (b *Bus) AddHandler(name string, h func(Notification) error) {
	b.router.AddNoPublisherHandler(name, b.topic, b.subscriber, func(msg *message.Message) error {
		var n Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			log.Warn().Err(err).Str("component", "notify").Str("handler", name).Msg("dropping undecodable notification")
			return nil
		}
		return h(n)
	})
}

func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	err := b.router.Close()
	for _, c := range b.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// HandleEffect publishes a session effect. It is meant for
// engine.WithEffectHandler; publish failures are logged, not returned.
func (b *Bus) HandleEffect(e engine.Effect) {
	var n Notification
	switch e := e.(type) {
	case engine.ChatBound:
		n = Notification{Kind: KindChatBound, ChatID: e.ChatID}
	case engine.TitleChanged:
		n = Notification{Kind: KindTitleChanged, ChatID: e.ChatID, Title: e.Title}
	case engine.ProductsChanged:
		n = Notification{Kind: KindProductsChanged, ChatID: e.ChatID, Products: e.Products}
	default:
		return
	}
	b.publishOrLog(n)
}

// StreamFinished publishes the outcome of a stream. It is meant for
// engine.WithCompletionHook.
func (b *Bus) StreamFinished(snap engine.Snapshot) {
	b.publishOrLog(Notification{
		Kind:     KindStreamFinished,
		ChatID:   snap.ChatID,
		State:    snap.State.String(),
		Messages: len(snap.Messages),
	})
}

func (b *Bus) publishOrLog(n Notification) {
	if err := b.Publish(n); err != nil {
		log.Warn().Err(err).Str("component", "notify").Str("chat_id", n.ChatID).Str("kind", string(n.Kind)).Msg("failed to publish notification")
	}
}
