package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/txn"
)

// SignatureNotification is pushed once a subscribed signature reaches the
// requested commitment. Err is the transaction error value, null on success.
type SignatureNotification struct {
	Slot uint64
	Err  json.RawMessage
}

// Failed reports whether the transaction executed with an error
func (n SignatureNotification) Failed() bool {
	return len(n.Err) > 0 && string(n.Err) != "null"
}

// Notifier subscribes to signature confirmations over the node's websocket endpoint
type Notifier struct {
	url    string
	dialer websocket.Dialer
	// AckTimeout bounds the wait for the node to acknowledge a subscription
	AckTimeout time.Duration
	log        logrus.FieldLogger
}

// NewNotifier creates a notifier for the websocket URL (ws:// or wss://)
func NewNotifier(url string, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		url:        url,
		dialer:     websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		AckTimeout: 10 * time.Second,
		log:        logging.OrDiscard(log).WithField("component", "notifier"),
	}
}

type signatureResult struct {
	Err json.RawMessage `json:"err"`
}

type notificationParams struct {
	Result       contextResult[signatureResult] `json:"result"`
	Subscription uint64                         `json:"subscription"`
}

type wsMessage struct {
	ID     *int                `json:"id,omitempty"`
	Method string              `json:"method,omitempty"`
	Result json.RawMessage     `json:"result,omitempty"`
	Error  *Error              `json:"error,omitempty"`
	Params *notificationParams `json:"params,omitempty"`
}

// SubscribeSignature opens a subscription for sig. The returned channel
// receives at most one notification and is closed when the subscription
// ends, either after delivering or when ctx is done or the connection drops.
func (n *Notifier) SubscribeSignature(ctx context.Context, sig txn.Signature, commitment Commitment) (<-chan SignatureNotification, error) {
	conn, _, err := n.dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return nil, clienterr.Network("signatureSubscribe", fmt.Errorf("websocket dial: %w", err))
	}

	// conn is closed once ctx is done or the subscription ends, which also
	// unblocks any pending read
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	fail := func(err error) (<-chan SignatureNotification, error) {
		close(done)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	id := 1
	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "signatureSubscribe",
		"params":  []any{sig.String(), map[string]any{"commitment": commitment}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fail(clienterr.Network("signatureSubscribe", fmt.Errorf("send subscribe: %w", err)))
	}

	if n.AckTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(n.AckTimeout))
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fail(clienterr.Network("signatureSubscribe", fmt.Errorf("read subscribe ack: %w", err)))
	}
	if ack.Error != nil {
		return fail(fmt.Errorf("signatureSubscribe: %w", ack.Error))
	}
	conn.SetReadDeadline(time.Time{})

	out := make(chan SignatureNotification, 1)
	go func() {
		defer close(out)
		defer close(done)
		log := n.log.WithField("signature", sig.String())
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Debug("subscription connection closed")
				}
				return
			}
			if msg.Method != "signatureNotification" || msg.Params == nil {
				continue
			}
			out <- SignatureNotification{
				Slot: msg.Params.Result.Context.Slot,
				Err:  msg.Params.Result.Value.Err,
			}
			return
		}
	}()
	return out, nil
}
