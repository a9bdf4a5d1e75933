package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// StartRun asks the daemon to launch a pipeline run.
func (c *Client) StartRun(phases []string, forced bool) (*StartRunResponse, error) {
	var resp StartRunResponse
	if err := c.client.Call(rpcName+".StartRun", StartRunRequest{Phases: phases, Forced: forced}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the active run to drain and stop.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call(rpcName+".Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves daemon and run status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(rpcName+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent runs.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.client.Call(rpcName+".History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep fails runs stuck beyond the configured timeout.
func (c *Client) Sweep() (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.client.Call(rpcName+".Sweep", SweepRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
