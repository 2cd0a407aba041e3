package orderapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/osync/internal/domain"
	"github.com/vladislavdragonenkov/osync/internal/service/orderapi"
)

type staticCredentials string

func (s staticCredentials) Token(context.Context) (string, error) {
	return string(s), nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func TestClient_GetOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/orders/customer-orders/order-1", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"order-1","customerId":"customer-1","status":"READY","subOrders":[{"id":"sub-1","vendorId":"vendor-1","status":"READY","items":[{"id":"item-1","quantity":2,"unitPrice":150,"totalPrice":300}]}]}}`))
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, staticCredentials("token-123"), orderapi.WithLogger(testLogger()))

	order, err := client.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", order.ID)
	require.Len(t, order.SubOrders, 1)
	require.Equal(t, domain.SubOrderStatusReady, order.SubOrders[0].Status)
	require.EqualValues(t, 300, order.SubOrders[0].Items[0].TotalPriceMinor)
}

func TestClient_GetOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	_, err := client.GetOrder(context.Background(), "order-404")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestClient_CancelOrder(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/orders/order-1/status", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	require.NoError(t, client.CancelOrder(context.Background(), "order-1"))
	require.Equal(t, map[string]string{"status": "CANCELLED"}, gotBody)
}

func TestClient_RejectProposal(t *testing.T) {
	var gotBody map[string]bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/proposals/prop-1/reject", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	require.NoError(t, client.RejectProposal(context.Background(), "prop-1", true))
	require.Equal(t, map[string]bool{"cancelEntireOrder": true}, gotBody)
}

func TestClient_RemoteCommandFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	err := client.AcceptProposal(context.Background(), "prop-1")
	require.ErrorIs(t, err, domain.ErrRemoteCommandFailed)
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // соединение сразу отклоняется

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	_, err := client.ListMyOrders(context.Background())
	require.ErrorIs(t, err, domain.ErrRemoteCommandFailed)
}

func TestClient_CreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)

		var draft domain.OrderDraft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		require.Equal(t, "42 Main St", draft.DeliveryAddress)
		require.Len(t, draft.Items, 1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"order-9","status":"PENDING_VENDOR_CONFIRMATION","subOrders":[{"id":"sub-1","status":"PENDING","items":[]}]}}`))
	}))
	defer server.Close()

	client := orderapi.NewClient(server.URL, nil, orderapi.WithLogger(testLogger()))

	order, err := client.CreateOrder(context.Background(), domain.OrderDraft{
		DeliveryAddress: "42 Main St",
		Items:           []domain.OrderDraftItem{{ProductID: "prod-1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "order-9", order.ID)
	require.Equal(t, domain.OrderStatusPendingVendorConfirmation, order.Status)
}
