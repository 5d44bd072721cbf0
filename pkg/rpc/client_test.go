package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/crypto"
	"github.com/yourusername/votesphere/pkg/txn"
)

type handlerFunc func(method string, params []json.RawMessage) (any, *Error)

func newTestServer(t *testing.T, h handlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			JSONRPC string            `json:"jsonrpc"`
			ID      string            `json:"id"`
			Method  string            `json:"method"`
			Params  []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.NotEmpty(t, req.ID)

		result, rpcErr := h(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL}, nil)
}

func withContext(v any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 42}, "value": v}
}

func TestGetAccountInfo(t *testing.T) {
	owner := address.MustParse("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	data := []byte{1, 2, 3, 4}

	client := newTestServer(t, func(method string, params []json.RawMessage) (any, *Error) {
		assert.Equal(t, "getAccountInfo", method)
		var key string
		require.NoError(t, json.Unmarshal(params[0], &key))
		if key == address.SystemProgram.String() {
			return withContext(nil), nil
		}
		return withContext(Account{Lamports: 5, Owner: owner, Data: data}), nil
	})

	acc, err := client.GetAccountInfo(context.Background(), owner, CommitmentConfirmed)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, data, acc.Data)
	assert.Equal(t, owner, acc.Owner)
	assert.Equal(t, uint64(5), acc.Lamports)

	missing, err := client.GetAccountInfo(context.Background(), address.SystemProgram, CommitmentConfirmed)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetProgramAccountsSendsFilters(t *testing.T) {
	program := address.MustParse("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	client := newTestServer(t, func(method string, params []json.RawMessage) (any, *Error) {
		var cfg struct {
			Filters []Filter `json:"filters"`
		}
		require.NoError(t, json.Unmarshal(params[1], &cfg))
		require.Len(t, cfg.Filters, 1)
		assert.Equal(t, uint64(16), cfg.Filters[0].Memcmp.Offset)
		return []KeyedAccount{{Pubkey: program, Account: Account{Owner: program, Data: []byte{9}}}}, nil
	})

	res, err := client.GetProgramAccounts(context.Background(), program, CommitmentConfirmed,
		MemcmpFilter(16, address.U64Seed(4)))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, program, res[0].Pubkey)
	assert.Equal(t, []byte{9}, res[0].Account.Data)
}

func TestSendTransactionPreflightError(t *testing.T) {
	client := newTestServer(t, func(method string, params []json.RawMessage) (any, *Error) {
		var raw string
		require.NoError(t, json.Unmarshal(params[0], &raw))
		_, err := crypto.DecodeBase64(raw)
		require.NoError(t, err)
		return nil, &Error{
			Code:    CodeSendTransactionPreflight,
			Message: "Transaction simulation failed",
			Data:    json.RawMessage(`{"err":{"InstructionError":[0,{"Custom":6000}]},"logs":["Program log: AlreadyVoted"]}`),
		}
	})

	_, err := client.SendTransaction(context.Background(), []byte{1, 2, 3}, SendOptions{})
	require.Error(t, err)
	assert.False(t, clienterr.Retryable(err))

	rpcErr, ok := AsError(err)
	require.True(t, ok)
	assert.JSONEq(t, `{"InstructionError":[0,{"Custom":6000}]}`, string(rpcErr.TransactionErr()))
	assert.Equal(t, []string{"Program log: AlreadyVoted"}, rpcErr.Logs())
}

func TestTransientFailuresAreNetworkErrors(t *testing.T) {
	client := newTestServer(t, func(string, []json.RawMessage) (any, *Error) {
		return nil, &Error{Code: CodeNodeUnhealthy, Message: "Node is behind"}
	})
	_, err := client.GetBalance(context.Background(), address.SystemProgram, CommitmentConfirmed)
	assert.ErrorIs(t, err, clienterr.ErrNetwork)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err = NewClient(Config{URL: srv.URL}, nil).GetBalance(context.Background(), address.SystemProgram, CommitmentConfirmed)
	assert.ErrorIs(t, err, clienterr.ErrNetwork)

	srv.Close()
	_, err = NewClient(Config{URL: srv.URL}, nil).GetBalance(context.Background(), address.SystemProgram, CommitmentConfirmed)
	assert.ErrorIs(t, err, clienterr.ErrNetwork)
}

func TestGetSignatureStatuses(t *testing.T) {
	one := uint64(1)
	client := newTestServer(t, func(method string, params []json.RawMessage) (any, *Error) {
		var sigs []string
		require.NoError(t, json.Unmarshal(params[0], &sigs))
		require.Len(t, sigs, 3)
		return withContext([]any{
			map[string]any{"slot": 10, "confirmations": one, "err": nil, "confirmationStatus": "confirmed"},
			nil,
			map[string]any{"slot": 11, "confirmations": nil, "err": map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 0}}}},
		}), nil
	})

	statuses, err := client.GetSignatureStatuses(context.Background(), txn.Signature{1}, txn.Signature{2}, txn.Signature{3})
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, CommitmentConfirmed, statuses[0].Commitment())
	assert.False(t, statuses[0].Failed())
	assert.Nil(t, statuses[1])
	assert.Equal(t, CommitmentFinalized, statuses[2].Commitment())
	assert.True(t, statuses[2].Failed())
}

func TestCommitmentRank(t *testing.T) {
	assert.True(t, CommitmentFinalized.AtLeast(CommitmentConfirmed))
	assert.True(t, CommitmentConfirmed.AtLeast(CommitmentConfirmed))
	assert.False(t, CommitmentProcessed.AtLeast(CommitmentConfirmed))
	assert.False(t, Commitment("").AtLeast(Commitment("")))
}

func TestFilterMatch(t *testing.T) {
	data := append(make([]byte, 16), address.U64Seed(4)...)
	assert.True(t, MemcmpFilter(16, address.U64Seed(4)).Match(data))
	assert.False(t, MemcmpFilter(16, address.U64Seed(5)).Match(data))
	assert.False(t, MemcmpFilter(20, address.U64Seed(4)).Match(data))
	assert.True(t, Filter{DataSize: 24}.Match(data))
	assert.False(t, Filter{DataSize: 25}.Match(data))
}
