package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	zfs "github.com/vansante/snapctl"
)

// HTTPAgent implements zfs.Agent by talking to a Server over HTTP, for
// operators who run the teacher's style of snapshot-transfer daemon on the
// destination instead of reaching it over ssh. SSH (zfs.RemoteAgent) remains
// the default and only transport push/pull exercises on their own; HTTPAgent
// is an alternative library users can select explicitly.
type HTTPAgent struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPAgent returns an Agent backed by the Server listening at baseURL
// (e.g. "http://host:8844").
func NewHTTPAgent(baseURL, authToken string) *HTTPAgent {
	return &HTTPAgent{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    http.DefaultClient,
	}
}

// SetClient overrides the underlying *http.Client, e.g. for TLS configuration.
func (a *HTTPAgent) SetClient(c *http.Client) {
	a.client = c
}

func (a *HTTPAgent) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if a.authToken != "" {
		req.Header.Set(authenticationTokenHeader, a.authToken)
	}
	return req, nil
}

func (a *HTTPAgent) doJSON(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := a.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("http: unexpected status %d", resp.StatusCode)
	}
	if body.Held {
		return fmt.Errorf("%s: %w", body.Error, zfs.ErrHeldSnapshot)
	}
	return errors.New(body.Error)
}

func (a *HTTPAgent) ListSnapshots(ctx context.Context, opts zfs.ListSnapshotsOptions) ([]zfs.Snapshot, error) {
	q := url.Values{}
	if opts.Dataset != "" {
		q.Set("dataset", opts.Dataset)
	}
	if opts.Recursive {
		q.Set("recursive", "true")
	}
	if opts.SortBy != "" {
		q.Set("sortBy", opts.SortBy)
	}
	if opts.Reverse {
		q.Set("reverse", "true")
	}

	var wires []snapshotWire
	if err := a.doJSON(ctx, http.MethodGet, "/snapshots", q, nil, &wires); err != nil {
		return nil, err
	}
	return fromWireSlice(wires), nil
}

func (a *HTTPAgent) GetSnapshots(ctx context.Context, longnames []string) ([]zfs.Snapshot, error) {
	var wires []snapshotWire
	err := a.doJSON(ctx, http.MethodPost, "/snapshots/batch", nil, getSnapshotsRequest{Longnames: longnames}, &wires)
	if err != nil {
		return nil, err
	}
	return fromWireSlice(wires), nil
}

func (a *HTTPAgent) GetDataset(ctx context.Context, name string) (zfs.DatasetRef, error) {
	q := url.Values{"name": []string{name}}
	var wire datasetWire
	if err := a.doJSON(ctx, http.MethodGet, "/dataset", q, nil, &wire); err != nil {
		return zfs.DatasetRef{}, err
	}
	return zfs.DatasetRef{Name: wire.Name, GUID: wire.GUID}, nil
}

func (a *HTTPAgent) GetPoolFromDataset(ctx context.Context, dataset string) (zfs.Pool, error) {
	q := url.Values{"name": []string{dataset}}
	var wire poolWire
	if err := a.doJSON(ctx, http.MethodGet, "/dataset/pool", q, nil, &wire); err != nil {
		return zfs.Pool{}, err
	}
	return zfs.Pool{Name: wire.Name, GUID: wire.GUID}, nil
}

func (a *HTTPAgent) CreateSnapshot(ctx context.Context, longname string, recursive bool, properties map[string]string) error {
	return a.doJSON(ctx, http.MethodPost, "/snapshots/create", nil, createRequest{
		Longname:   longname,
		Recursive:  recursive,
		Properties: properties,
	}, nil)
}

func (a *HTTPAgent) RenameSnapshot(ctx context.Context, longname, newShortname string) error {
	return a.doJSON(ctx, http.MethodPost, "/snapshots/rename", nil, renameRequest{
		Longname:     longname,
		NewShortname: newShortname,
	}, nil)
}

func (a *HTTPAgent) DestroySnapshots(ctx context.Context, dataset string, shortnames []string) error {
	return a.doJSON(ctx, http.MethodPost, "/snapshots/destroy", nil, destroyRequest{
		Dataset:    dataset,
		Shortnames: shortnames,
	}, nil)
}

func (a *HTTPAgent) SetTags(ctx context.Context, longname string, tags zfs.TagSet) error {
	req := setTagsRequest{Longname: longname}
	if tags == nil {
		req.TagsUnset = true
	} else {
		req.Tags = tags.Slice()
	}
	return a.doJSON(ctx, http.MethodPost, "/snapshots/tags", nil, req, nil)
}

func (a *HTTPAgent) Hold(ctx context.Context, longnames []string, tag string) error {
	return a.doJSON(ctx, http.MethodPost, "/holds", nil, holdRequest{Longnames: longnames, Tag: tag}, nil)
}

func (a *HTTPAgent) Release(ctx context.Context, longnames []string, tag string) error {
	return a.doJSON(ctx, http.MethodPost, "/holds/release", nil, holdRequest{Longnames: longnames, Tag: tag}, nil)
}

func (a *HTTPAgent) GetHolds(ctx context.Context, longnames []string) ([]zfs.Hold, error) {
	var wires []holdWire
	err := a.doJSON(ctx, http.MethodPost, "/holds/get", nil, getHoldsRequest{Longnames: longnames}, &wires)
	if err != nil {
		return nil, err
	}
	return fromHoldWireSlice(wires), nil
}

func (a *HTTPAgent) HasHold(ctx context.Context, longname, tag string) (bool, error) {
	holds, err := a.GetHolds(ctx, []string{longname})
	if err != nil {
		return false, err
	}
	for _, h := range holds {
		if h.Tag == tag {
			return true, nil
		}
	}
	return false, nil
}

func (a *HTTPAgent) SendSnapshotAsync(ctx context.Context, longname, baseLongname string) (zfs.SendHandle, error) {
	q := url.Values{"longname": []string{longname}}
	if baseLongname != "" {
		q.Set("base", baseLongname)
	}
	req, err := a.newRequest(ctx, http.MethodGet, "/send", q, nil)
	if err != nil {
		return nil, err
	}
	return startHTTPSend(a.client, req)
}

func (a *HTTPAgent) ReceiveSnapshotAsync(ctx context.Context, dataset string, stdin io.Reader, properties map[string]string) (zfs.ReceiveHandle, error) {
	q := url.Values{"dataset": []string{dataset}}
	req, err := a.newRequest(ctx, http.MethodPut, "/receive", q, stdin)
	if err != nil {
		return nil, err
	}
	req.ContentLength = -1
	return startHTTPReceive(a.client, req)
}

var _ zfs.Agent = (*HTTPAgent)(nil)
