package integrity

import (
	"context"
	"fmt"
	"net/http"

	"fieldid/internal/authority"
	"fieldid/internal/store"
)

const (
	MsgServerUnreachable = "Unable to connect to API server."
	MsgServerReachable   = "API server connection successful!"
)

// Pinger reports the authority's liveness status code.
type Pinger interface {
	Ping(ctx context.Context) (int, error)
}

// Connectivity passes when the authority answers its ping with status 200.
// Entries go to the service stream.
type Connectivity struct {
	client Pinger
	env    Env
}

func NewConnectivity(client Pinger, env Env) *Connectivity {
	return &Connectivity{client: client, env: env}
}

func (c *Connectivity) Name() string     { return "connectivity" }
func (c *Connectivity) Failure() Outcome { return NetworkUnreachable }

func (c *Connectivity) Check(ctx context.Context) Result {
	status, err := c.client.Ping(ctx)
	var res Result
	switch {
	case err != nil:
		res = fail(c, authority.KindOf(err), err.Error(), err)
	case status != http.StatusOK:
		res = fail(c, authority.KindTransientNetwork, fmt.Sprintf("ping status %d", status), nil)
	default:
		entry := successEntry(MsgServerReachable)
		entry.Online = true
		c.env.write(ctx, store.StreamService, entry)
		return pass(c.Name())
	}

	stream, entry := c.failureEntry()
	c.env.write(ctx, stream, entry)
	return res
}

func (c *Connectivity) failureEntry() (store.Stream, store.Entry) {
	return store.StreamService, userErrorEntry(MsgServerUnreachable)
}
