package ledgertest

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/crypto"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/txn"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
}

type slotContext struct {
	Slot uint64 `json:"slot"`
}

type contextValue struct {
	Context slotContext `json:"context"`
	Value   any         `json:"value"`
}

// Server exposes a Ledger over HTTP JSON-RPC and websocket subscriptions
type Server struct {
	*httptest.Server
	Ledger *Ledger
}

// NewServer starts a server for l. Close it when done.
func NewServer(l *Ledger) *Server {
	return &Server{Server: httptest.NewServer(l.Handler()), Ledger: l}
}

// RPCURL is the JSON-RPC endpoint
func (s *Server) RPCURL() string {
	return s.URL
}

// WSURL is the websocket endpoint
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Handler serves JSON-RPC over POST and signature subscriptions over
// websocket upgrades on the same path
func (l *Ledger) Handler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			l.serveSubscriptions(conn)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if l.shouldFail(req.Method) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		result, rpcErr := l.dispatch(req.Method, req.Params)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
	})
}

func (l *Ledger) shouldFail(method string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[method]++
	if l.failNext[method] > 0 {
		l.failNext[method]--
		return true
	}
	return false
}

func invalidParams(format string, args ...any) *rpc.Error {
	return &rpc.Error{Code: -32602, Message: fmt.Sprintf(format, args...)}
}

func param[T any](params []json.RawMessage, i int) (T, *rpc.Error) {
	var v T
	if i >= len(params) {
		return v, invalidParams("missing parameter %d", i)
	}
	if err := json.Unmarshal(params[i], &v); err != nil {
		return v, invalidParams("parameter %d: %v", i, err)
	}
	return v, nil
}

func (l *Ledger) dispatch(method string, params []json.RawMessage) (any, *rpc.Error) {
	switch method {
	case "getAccountInfo":
		addr, err := param[address.Address](params, 0)
		if err != nil {
			return nil, err
		}
		return l.getAccountInfo(addr), nil
	case "getProgramAccounts":
		owner, err := param[address.Address](params, 0)
		if err != nil {
			return nil, err
		}
		var cfg struct {
			Filters []rpc.Filter `json:"filters"`
		}
		if len(params) > 1 {
			if e := json.Unmarshal(params[1], &cfg); e != nil {
				return nil, invalidParams("config: %v", e)
			}
		}
		return l.getProgramAccounts(owner, cfg.Filters), nil
	case "getLatestBlockhash":
		return l.getLatestBlockhash(), nil
	case "sendTransaction":
		encoded, err := param[string](params, 0)
		if err != nil {
			return nil, err
		}
		var opts rpc.SendOptions
		if len(params) > 1 {
			if e := json.Unmarshal(params[1], &opts); e != nil {
				return nil, invalidParams("options: %v", e)
			}
		}
		return l.sendTransaction(encoded, opts)
	case "getSignatureStatuses":
		sigs, err := param[[]txn.Signature](params, 0)
		if err != nil {
			return nil, err
		}
		return l.getSignatureStatuses(sigs), nil
	case "getBalance":
		addr, err := param[address.Address](params, 0)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		return contextValue{Context: slotContext{l.slot}, Value: l.balances[addr]}, nil
	case "requestAirdrop":
		addr, err := param[address.Address](params, 0)
		if err != nil {
			return nil, err
		}
		lamports, err := param[uint64](params, 1)
		if err != nil {
			return nil, err
		}
		return l.airdrop(addr, lamports), nil
	default:
		return nil, &rpc.Error{Code: -32601, Message: "Method not found"}
	}
}

func (l *Ledger) getAccountInfo(addr address.Address) contextValue {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := contextValue{Context: slotContext{l.slot}}
	if data, ok := l.accounts[addr]; ok {
		res.Value = rpc.Account{Lamports: l.rent, Owner: l.programID, Data: data}
	} else if lamports, ok := l.balances[addr]; ok {
		res.Value = rpc.Account{Lamports: lamports, Owner: address.SystemProgram}
	}
	return res
}

func (l *Ledger) getProgramAccounts(owner address.Address, filters []rpc.Filter) []rpc.KeyedAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []rpc.KeyedAccount{}
	if owner != l.programID {
		return out
	}
next:
	for addr, data := range l.accounts {
		for _, f := range filters {
			if !f.Match(data) {
				continue next
			}
		}
		out = append(out, rpc.KeyedAccount{
			Pubkey:  addr,
			Account: rpc.Account{Lamports: l.rent, Owner: l.programID, Data: data},
		})
	}
	return out
}

func (l *Ledger) getLatestBlockhash() contextValue {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, last := l.newBlockhash()
	return contextValue{
		Context: slotContext{l.slot},
		Value:   rpc.Blockhash{Blockhash: h, LastValidBlockHeight: last},
	}
}

func preflightError(e *txError) *rpc.Error {
	data, _ := json.Marshal(map[string]any{"err": e.value, "logs": e.logs})
	return &rpc.Error{
		Code:    -32002,
		Message: "Transaction simulation failed: Error processing Instruction 0",
		Data:    data,
	}
}

func (l *Ledger) sendTransaction(encoded string, opts rpc.SendOptions) (any, *rpc.Error) {
	raw, err := crypto.DecodeBase64(encoded)
	if err != nil {
		return nil, invalidParams("invalid base64: %v", err)
	}
	tx, err := txn.Deserialize(raw)
	if err != nil {
		return nil, invalidParams("failed to deserialize transaction: %v", err)
	}
	if err := tx.Verify(); err != nil {
		return nil, &rpc.Error{Code: -32003, Message: "Transaction signature verification failure"}
	}

	l.mu.Lock()
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()
	for _, fn := range hooks {
		fn(l)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	sig := tx.Signature()
	if _, seen := l.sigs[sig]; seen {
		return nil, preflightError(named("AlreadyProcessed"))
	}

	txErr := l.execute(tx, opts.SkipPreflight)
	if txErr != nil && !opts.SkipPreflight {
		l.log.WithField("error", string(txErr.value)).Debug("preflight rejected")
		return nil, preflightError(txErr)
	}

	l.slot++
	rec := &sigRecord{slot: l.slot, level: rpc.CommitmentProcessed}
	if txErr != nil {
		rec.err = txErr.value
	}
	l.sigs[sig] = rec
	l.notify(sig, *rec)
	return sig, nil
}

// getSignatureStatuses advances each known signature one commitment level
// per query, so a status is seen as processed, then confirmed, then finalized.
func (l *Ledger) getSignatureStatuses(sigs []txn.Signature) contextValue {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*rpc.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		rec, ok := l.sigs[sig]
		if !ok || l.stall {
			continue
		}
		st := &rpc.SignatureStatus{Slot: rec.slot, Err: rec.err, ConfirmationStatus: rec.level}
		if rec.level != rpc.CommitmentFinalized {
			confs := l.slot - rec.slot
			st.Confirmations = &confs
		}
		out[i] = st
		switch rec.level {
		case rpc.CommitmentProcessed:
			rec.level = rpc.CommitmentConfirmed
		case rpc.CommitmentConfirmed:
			rec.level = rpc.CommitmentFinalized
		}
	}
	return contextValue{Context: slotContext{l.slot}, Value: out}
}

func (l *Ledger) airdrop(addr address.Address, lamports uint64) txn.Signature {
	var sig txn.Signature
	rand.Read(sig[:])
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += lamports
	l.slot++
	l.sigs[sig] = &sigRecord{slot: l.slot, level: rpc.CommitmentFinalized}
	return sig
}

type wsRequest struct {
	ID     int               `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type wsNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Result       contextValue `json:"result"`
		Subscription uint64       `json:"subscription"`
	} `json:"params"`
}

// serveSubscriptions handles one websocket connection carrying a single
// signatureSubscribe request
func (l *Ledger) serveSubscriptions(conn *websocket.Conn) {
	defer conn.Close()

	var req wsRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Method != "signatureSubscribe" || len(req.Params) == 0 {
		conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   rpc.Error{Code: -32601, Message: "Method not found"},
		})
		return
	}
	var sig txn.Signature
	if err := json.Unmarshal(req.Params[0], &sig); err != nil {
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": invalidParams("%v", err)})
		return
	}

	ch := make(chan sigRecord, 1)
	l.mu.Lock()
	l.calls["signatureSubscribe"]++
	subID := uint64(l.calls["signatureSubscribe"])
	if rec, ok := l.sigs[sig]; ok && !l.stall {
		ch <- *rec
	} else {
		l.subs[sig] = append(l.subs[sig], ch)
	}
	l.mu.Unlock()

	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID}); err != nil {
		return
	}

	// the client closes the connection when it stops waiting
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case rec := <-ch:
		var note wsNotification
		note.JSONRPC = "2.0"
		note.Method = "signatureNotification"
		note.Params.Subscription = subID
		note.Params.Result = contextValue{
			Context: slotContext{rec.slot},
			Value:   map[string]json.RawMessage{"err": nullIfEmpty(rec.err)},
		}
		conn.WriteJSON(note)
	case <-closed:
		l.unsubscribe(sig, ch)
	}
}

func (l *Ledger) unsubscribe(sig txn.Signature, ch chan sigRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.subs[sig]
	for i, c := range subs {
		if c == ch {
			l.subs[sig] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(l.subs[sig]) == 0 {
		delete(l.subs, sig)
	}
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
