package solrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers JSON-RPC calls with result(method), echoing the id.
func newRPCServer(t *testing.T, hits *atomic.Int32, result func(method string) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result(req.Method),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFailingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewPoolRequiresNodes(t *testing.T) {
	_, err := NewPool(nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoRPCNodes)
}

func TestGetBalance(t *testing.T) {
	var hits atomic.Int32
	srv := newRPCServer(t, &hits, func(method string) interface{} {
		assert.Equal(t, "getBalance", method)
		return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": 2500000000}
	})

	pool, err := NewPool([]string{srv.URL}, zap.NewNop())
	require.NoError(t, err)

	lamports, err := pool.GetBalance(context.Background(), solana.SystemProgramID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000000), lamports)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFailoverToNextNode(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := newFailingServer(t, &badHits)
	good := newRPCServer(t, &goodHits, func(string) interface{} {
		return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": 7}
	})

	pool, err := NewPool([]string{bad.URL, good.URL}, zap.NewNop())
	require.NoError(t, err)

	lamports, err := pool.GetBalance(context.Background(), solana.SystemProgramID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), lamports)
	assert.Equal(t, int32(1), badHits.Load())
	assert.Equal(t, int32(1), goodHits.Load())
}

func TestAllNodesFail(t *testing.T) {
	var hits atomic.Int32
	bad := newFailingServer(t, &hits)

	pool, err := NewPool([]string{bad.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = pool.GetBalance(context.Background(), solana.SystemProgramID)
	require.Error(t, err)
	assert.Equal(t, int32(retryAttempts), hits.Load())
}

func TestGetAccountInfo(t *testing.T) {
	data := make([]byte, 82)
	data[44] = 6

	var hits atomic.Int32
	srv := newRPCServer(t, &hits, func(method string) interface{} {
		assert.Equal(t, "getAccountInfo", method)
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": map[string]interface{}{
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"lamports":   1461600,
				"owner":      solana.TokenProgramID.String(),
				"rentEpoch":  0,
			},
		}
	})

	pool, err := NewPool([]string{srv.URL}, zap.NewNop())
	require.NoError(t, err)

	acc, err := pool.GetAccountInfo(context.Background(), solana.SystemProgramID)
	require.NoError(t, err)
	require.NotNil(t, acc.Value)
	assert.Equal(t, uint8(6), acc.Value.Data.GetBinary()[44])
}

func TestGetAccountInfoNotFoundDoesNotFailOver(t *testing.T) {
	var hits atomic.Int32
	srv := newRPCServer(t, &hits, func(string) interface{} {
		return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": nil}
	})

	pool, err := NewPool([]string{srv.URL, srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = pool.GetAccountInfo(context.Background(), solana.SystemProgramID)
	assert.True(t, errors.Is(err, solanarpc.ErrNotFound))
	assert.Equal(t, int32(1), hits.Load())
}

func TestCancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := newFailingServer(t, &hits)
	pool, err := NewPool([]string{srv.URL}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.GetBalance(ctx, solana.SystemProgramID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}
