package broker

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkhandelwal/futures-exec-engine/internal/breaker"
)

func testClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	cfg := Config{AccountType: AccountDemo, APIBaseDemo: baseURL, Username: "u", Password: "p", AppID: "app", AppSecret: "secret", DeviceID: "dev"}
	c := NewHTTPClient(cfg, breaker.NewRegistry(log.New(io.Discard, "", 0)), log.New(os.Stderr, "", 0))
	c.token.set("test-token", time.Now().Add(time.Hour))
	return c
}

func TestHTTPClient_PlaceOrder_SendsCustomTag50AndParsesResponse(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order/placeorder", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderWireResp{OrderID: "B-1", OrdStatus: "Working", CumQty: 0, AvgPx: 0})
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	resp, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "ES", Action: SideBuy, OrderType: TypeMarket, Qty: 1, TimeInForce: TIFDay, CustomTag50: "setup-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "B-1", resp.BrokerOrderID)
	assert.Equal(t, StatusWorking, resp.Status)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Contains(t, gotBody, "setup-123")
}

func TestHTTPClient_DoRequest_MapsHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "ES", Action: SideBuy, OrderType: TypeMarket, Qty: 1})
	require.Error(t, err)

	var apiErr *BrokerAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.HTTPStatus)
	assert.True(t, apiErr.Retryable)
}

func TestHTTPClient_DoRequest_FourHundredIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad qty"}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "ES", Action: SideBuy, OrderType: TypeMarket, Qty: 1})
	require.Error(t, err)

	var apiErr *BrokerAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.HTTPStatus)
	assert.False(t, apiErr.Retryable)
}

func TestHTTPClient_GetPositions_ParsesWireShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/position/list", r.URL.Path)
		json.NewEncoder(w).Encode([]positionWireResp{
			{Symbol: "NQ", NetQty: -2, AvgPrice: 17500, UnrealizedPL: 120.5},
		})
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "NQ", positions[0].Symbol)
	assert.Equal(t, -2, positions[0].NetQty)
}

func TestHTTPClient_ClosePosition_FlipsSideAndSubmitsMarketOrder(t *testing.T) {
	var placedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/position/list":
			json.NewEncoder(w).Encode([]positionWireResp{{Symbol: "CL", NetQty: -3, AvgPrice: 70}})
		case "/order/placeorder":
			body, _ := io.ReadAll(r.Body)
			placedBody = string(body)
			json.NewEncoder(w).Encode(orderWireResp{OrderID: "B-2", OrdStatus: "Filled", CumQty: 3, AvgPx: 70.2})
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	resp, err := c.ClosePosition(context.Background(), "CL")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, resp.Status)
	assert.Contains(t, placedBody, `"action":"Buy"`)
	assert.Contains(t, placedBody, `"orderQty":3`)
}

func TestHTTPClient_GetHistoricalBars_ParsesBarsAndSkipsBadTimestamps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]chartBarWireResp{
			{Timestamp: "2026-07-30T09:30:00Z", Open: 5000, High: 5010, Low: 4995, Close: 5005, Volume: 1000},
			{Timestamp: "not-a-timestamp", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		})
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	bars, err := c.GetHistoricalBars(context.Background(), "ES", 10, 5)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 5005.0, bars[0].Close)
}

func TestHTTPClient_Refresh_UpdatesTokenFromAuthResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/accesstokenrequest", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "fresh-token", "expirationTime": 3600})
	}))
	defer server.Close()

	cfg := Config{AccountType: AccountDemo, APIBaseDemo: server.URL, Username: "u", Password: "p", AppID: "app", AppSecret: "secret", DeviceID: "dev"}
	c := NewHTTPClient(cfg, breaker.NewRegistry(log.New(io.Discard, "", 0)), log.New(io.Discard, "", 0))

	err := c.refresh(context.Background())
	require.NoError(t, err)

	token, expiresAt := c.token.get()
	assert.Equal(t, "fresh-token", token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
}
