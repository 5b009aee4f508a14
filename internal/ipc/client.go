package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const (
	dialTimeout = 2 * time.Second
	callTimeout = 30 * time.Second
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// invoke runs one RPC and gives up after callTimeout so a wedged daemon
// cannot hang the CLI.
func invoke[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	call := c.client.Go(serviceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case <-call.Done:
		if call.Error != nil {
			return nil, call.Error
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: no answer from daemon after %s", method, callTimeout)
	}
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	return invoke[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return invoke[StatusResponse](c, "Status", StatusRequest{})
}

// Events lists journaled transitions matching req.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	return invoke[EventsResponse](c, "Events", req)
}

// Stats returns outcome counts per stage.
func (c *Client) Stats() (*StatsResponse, error) {
	return invoke[StatsResponse](c, "Stats", StatsRequest{})
}

// Interventions lists parked tasks per stage.
func (c *Client) Interventions() (*InterventionsResponse, error) {
	return invoke[InterventionsResponse](c, "Interventions", InterventionsRequest{})
}
