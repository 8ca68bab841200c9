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
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
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

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Tally.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan feeds the waiting sheet.
func (c *Client) Scan() (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.client.Call("Tally.Scan", ScanRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Accept drops the held sheet into the ballot bag.
func (c *Client) Accept() (*AcceptResponse, error) {
	var resp AcceptResponse
	if err := c.client.Call("Tally.Accept", AcceptRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Return ejects the held sheet back to the voter.
func (c *Client) Return() (*ReturnResponse, error) {
	var resp ReturnResponse
	if err := c.client.Call("Tally.Return", ReturnRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calibrate runs sensor calibration; blocks until it finishes.
func (c *Client) Calibrate() (*CalibrateResponse, error) {
	var resp CalibrateResponse
	if err := c.client.Call("Tally.Calibrate", CalibrateRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPollsState applies one polls-state transition.
func (c *Client) SetPollsState(state string) (*SetPollsResponse, error) {
	var resp SetPollsResponse
	if err := c.client.Call("Tally.SetPollsState", SetPollsRequest{State: state}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BallotBagReplaced records a ballot-bag replacement.
func (c *Client) BallotBagReplaced() (*BagReplacedResponse, error) {
	var resp BagReplacedResponse
	if err := c.client.Call("Tally.BallotBagReplaced", BagReplacedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportCastVoteRecords drains pending records to the drive.
func (c *Client) ExportCastVoteRecords(finalize bool) (*ExportResponse, error) {
	var resp ExportResponse
	if err := c.client.Call("Tally.ExportCastVoteRecords", ExportRequest{Finalize: finalize}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Batches lists all batches.
func (c *Client) Batches() (*BatchesResponse, error) {
	var resp BatchesResponse
	if err := c.client.Call("Tally.Batches", BatchesRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PollsTransitions returns the polls audit trail.
func (c *Client) PollsTransitions() (*TransitionsResponse, error) {
	var resp TransitionsResponse
	if err := c.client.Call("Tally.PollsTransitions", TransitionsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Tally.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Tally.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Tally.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
