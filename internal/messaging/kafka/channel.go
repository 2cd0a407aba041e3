package kafka

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

// ConnectionState описывает состояние push-канала.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String возвращает имя состояния для логов и метрик.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// EventHandler обрабатывает доставленное событие заказа.
type EventHandler func(event *OrderEvent)

// StateHandler получает уведомление о смене состояния канала.
type StateHandler func(state ConnectionState)

// Channel — push-канал поверх Kafka consumer group. Гарантии доставки:
// at-most-once в пределах одной физической сессии, at-least-once через
// границу reconnect: после переподключения возможны повторы и пропуски,
// порядок через границу reconnect не гарантируется.
type Channel struct {
	group  sarama.ConsumerGroup
	topics []string
	logger *log.Entry

	mu            sync.RWMutex
	handlers      map[EventName][]EventHandler
	stateHandlers []StateHandler
	state         ConnectionState
	closed        bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// tokenProvider отдаёт sarama непрозрачный токен от CredentialProvider.
type tokenProvider struct {
	ctx         context.Context
	credentials domain.CredentialProvider
}

func (p *tokenProvider) Token() (*sarama.AccessToken, error) {
	token, err := p.credentials.Token(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch channel credential: %w", err)
	}
	return &sarama.AccessToken{Token: token}, nil
}

// Connect создает канал и начинает доставку событий. Подключение сразу
// подписывает на фиксированный набор topics жизненного цикла заказа;
// список статичен для сессии и не согласуется динамически.
func Connect(ctx context.Context, brokers []string, groupID string, credentials domain.CredentialProvider) (*Channel, error) {
	config := sarama.NewConfig()
	config.ClientID = "osync-" + uuid.NewString()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	if credentials != nil {
		config.Net.SASL.Enable = true
		config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		config.Net.SASL.TokenProvider = &tokenProvider{ctx: ctx, credentials: credentials}
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create event channel: %w", err)
	}

	ch := newChannel(group, OrderTopics())
	ch.start(ctx)
	return ch, nil
}

// newChannel собирает канал поверх готовой consumer group (тесты подменяют группу).
func newChannel(group sarama.ConsumerGroup, topics []string) *Channel {
	return &Channel{
		group:    group,
		topics:   topics,
		logger:   log.WithField("component", "event-channel"),
		handlers: make(map[EventName][]EventHandler),
		state:    StateDisconnected,
	}
}

// start запускает consume-цикл и обработку ошибок.
func (c *Channel) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			c.setState(StateConnecting)
			// Consume вызывается в цикле: при rebalance или обрыве он завершается,
			// и цикл переподключается заново.
			if err := c.group.Consume(runCtx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from event channel consume")
			}

			if runCtx.Err() != nil || c.isClosed() {
				c.setState(StateDisconnected)
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("event channel error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("event channel started")
}

// On регистрирует обработчик события. Обработчики вызываются в горутине доставки.
func (c *Channel) On(event EventName, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Off снимает один ранее зарегистрированный обработчик события; остальные
// подписчики события остаются. Функции несравнимы, поэтому сопоставление
// идёт по указателю на код обработчика.
func (c *Channel) Off(event EventName, handler EventHandler) {
	target := reflect.ValueOf(handler).Pointer()

	c.mu.Lock()
	defer c.mu.Unlock()

	registered := c.handlers[event]
	for i, h := range registered {
		if reflect.ValueOf(h).Pointer() != target {
			continue
		}
		c.handlers[event] = append(registered[:i:i], registered[i+1:]...)
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
		return
	}
}

// NotifyStateChange регистрирует наблюдателя смены состояния канала.
func (c *Channel) NotifyStateChange(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, handler)
}

// ConnectionState возвращает текущее состояние канала.
func (c *Channel) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close разрывает канал без переподключения: путь выхода пользователя
// из аккаунта (инвалидация credential).
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrChannelDisconnected
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close event channel: %w", err)
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
	c.logger.Info("event channel closed")
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// setState фиксирует смену состояния и уведомляет наблюдателей.
func (c *Channel) setState(state ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	observers := append([]StateHandler(nil), c.stateHandlers...)
	c.mu.Unlock()

	c.logger.WithField("state", state.String()).Debug("event channel state changed")
	for _, observer := range observers {
		observer(state)
	}
}

// Setup вызывается при старте consumer session.
func (c *Channel) Setup(sarama.ConsumerGroupSession) error {
	c.setState(StateConnected)
	return nil
}

// Cleanup вызывается при завершении consumer session.
func (c *Channel) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim доставляет события заказов зарегистрированным обработчикам.
func (c *Channel) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			event, err := ParseOrderEvent(message)
			if err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Warn("skipping malformed order event")
				session.MarkMessage(message, "")
				continue
			}

			c.dispatch(event)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Channel) dispatch(event *OrderEvent) {
	c.mu.RLock()
	handlers := append([]EventHandler(nil), c.handlers[event.Event]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.WithFields(log.Fields{
			"event":    event.Event,
			"order_id": event.OrderID,
		}).Debug("no handlers for event")
		return
	}

	for _, handler := range handlers {
		handler(event)
	}
}

var _ sarama.ConsumerGroupHandler = (*Channel)(nil)
