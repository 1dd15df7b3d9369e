package fake

import (
	"context"
	"hash/fnv"
	"net/http"

	"github.com/RouteWise/FieldOps/internal/transport"
	"github.com/pkg/errors"
)

// FakeClient — заглушка бекенда для демо и офлайн-прогонов. Исход
// детерминирован по (endpoint, payload): часть отправок "падает", чтобы было
// видно retry/backoff в действии.
type FakeClient struct {
	// FailEvery makes every N-th hash bucket fail; 0 disables failures.
	FailEvery uint32
}

func New() *FakeClient { return &FakeClient{FailEvery: 5} }

func (f *FakeClient) Send(ctx context.Context, endpoint, method string, payload []byte) (transport.Result, error) {
	if f.FailEvery > 0 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(endpoint))
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write(payload)
		if h.Sum32()%f.FailEvery == 0 {
			return transport.Result{}, errors.New("fake fleet server unavailable")
		}
	}
	return transport.Result{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"accepted":true}`),
	}, nil
}
