package transport

import (
	"context"
	"encoding/json"
)

type Result struct {
	StatusCode int
	Body       json.RawMessage
}

// Client is the only thing the sync core knows about the server: a function
// that performs one mutation and reports success or failure. Retries, backoff
// and pacing live on our side, not here.
type Client interface {
	Send(ctx context.Context, endpoint, method string, payload []byte) (Result, error)
}
