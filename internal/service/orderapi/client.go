package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

const defaultRequestTimeout = 10 * time.Second

// Client — REST-клиент заказного API. Команды не повторяются автоматически:
// retry при ErrRemoteCommandFailed — решение вызывающего слоя.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials domain.CredentialProvider
	logger      *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет транспорт (таймауты, тесты).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger задает logger для клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient создает клиент заказного API.
func NewClient(baseURL string, credentials domain.CredentialProvider, options ...Option) *Client {
	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultRequestTimeout},
		credentials: credentials,
		logger:      log.WithField("component", "order-api"),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// envelope — стандартный конверт ответов бэкенда: полезная нагрузка в data.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// CreateOrder создает композитный заказ.
func (c *Client) CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.CompositeOrder, error) {
	var order domain.CompositeOrder
	if err := c.do(ctx, http.MethodPost, "/orders", draft, &order); err != nil {
		return domain.CompositeOrder{}, err
	}
	return order, nil
}

// ListMyOrders возвращает сводки заказов клиента (без вложенных позиций).
func (c *Client) ListMyOrders(ctx context.Context) ([]domain.CompositeOrder, error) {
	var orders []domain.CompositeOrder
	if err := c.do(ctx, http.MethodGet, "/orders/customer-orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder возвращает полный authoritative снапшот заказа.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.CompositeOrder, error) {
	var order domain.CompositeOrder
	if err := c.do(ctx, http.MethodGet, "/orders/customer-orders/"+orderID, nil, &order); err != nil {
		return domain.CompositeOrder{}, err
	}
	return order, nil
}

// CancelOrder инициирует отмену всего заказа клиентом.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]string{"status": string(domain.OrderStatusCancelled)}
	return c.do(ctx, http.MethodPut, "/orders/"+orderID+"/status", payload, nil)
}

// AcceptProposal принимает proposal; семантика применяется на стороне бэкенда.
func (c *Client) AcceptProposal(ctx context.Context, proposalID string) error {
	return c.do(ctx, http.MethodPost, "/orders/proposals/"+proposalID+"/accept", nil, nil)
}

// RejectProposal отклоняет proposal, опционально отменяя весь заказ.
func (c *Client) RejectProposal(ctx context.Context, proposalID string, cancelEntireOrder bool) error {
	payload := map[string]bool{"cancelEntireOrder": cancelEntireOrder}
	return c.do(ctx, http.MethodPost, "/orders/proposals/"+proposalID+"/reject", payload, nil)
}

// do выполняет запрос с bearer-токеном и разворачивает конверт ответа.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.credentials != nil {
		token, err := c.credentials.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: fetch credential: %v", domain.ErrRemoteCommandFailed, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"method": method,
			"path":   path,
		}).Warn("order api request failed")
		return fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteCommandFailed, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrRemoteCommandFailed, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", domain.ErrOrderNotFound, method, path)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("order api returned error status")
		return fmt.Errorf("%w: %s %s: status %d", domain.ErrRemoteCommandFailed, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", domain.ErrRemoteCommandFailed, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: empty response data", domain.ErrRemoteCommandFailed)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode response data: %v", domain.ErrRemoteCommandFailed, err)
	}
	return nil
}

var _ domain.OrderAPI = (*Client)(nil)
