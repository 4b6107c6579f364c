// Package http implements the RemoteService port against the ConnectHealth
// REST API. It is a reference adapter: the engine itself is wire-protocol
// agnostic and accepts any RemoteService implementation.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// Metadata provides connection context for every request.
type Metadata struct {
	// BaseURL is the service root, without trailing slash.
	BaseURL string

	// AuthKey is sent as a bearer token.
	AuthKey string

	// ClientID identifies this device to the backend.
	ClientID string
}

// RemoteService implements ports.RemoteService over HTTP with JSON bodies.
// The injected client owns the per-call timeout; timeouts map to
// KindDeadlineExceeded and count as ordinary retryable failures.
type RemoteService struct {
	client ports.HTTPClient
	meta   Metadata
	logger log.Logger
}

// NewRemoteService creates a RemoteService adapter.
func NewRemoteService(client ports.HTTPClient, meta Metadata, logger log.Logger) *RemoteService {
	return &RemoteService{client: client, meta: meta, logger: logger}
}

// Get fetches a record.
func (r *RemoteService) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.do(ctx, http.MethodGet, r.docURL(collection, id), nil, &out)
	return out, err
}

// Create stores a new record and returns its server-assigned ID.
func (r *RemoteService) Create(ctx context.Context, collection string, data json.RawMessage) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body, err := json.Marshal(map[string]json.RawMessage{"data": data})
	if err != nil {
		return "", domain.NewRemoteError(domain.KindInvalidPayload, "marshal create body: %v", err)
	}
	if err := r.do(ctx, http.MethodPost, r.collectionURL(collection), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Update applies a partial update to an existing record.
func (r *RemoteService) Update(ctx context.Context, collection, id string, partial json.RawMessage) error {
	return r.do(ctx, http.MethodPatch, r.docURL(collection, id), partial, nil)
}

// Delete removes a record.
func (r *RemoteService) Delete(ctx context.Context, collection, id string) error {
	return r.do(ctx, http.MethodDelete, r.docURL(collection, id), nil, nil)
}

// BatchCommit applies all ops atomically on the server side.
func (r *RemoteService) BatchCommit(ctx context.Context, ops []domain.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]interface{}{"ops": ops})
	if err != nil {
		return domain.NewRemoteError(domain.KindInvalidPayload, "marshal batch body: %v", err)
	}
	return r.do(ctx, http.MethodPost, r.meta.BaseURL+"/v1/batch", body, nil)
}

// UploadFile transfers a local file via multipart form-data and returns
// the public URL assigned by the server.
func (r *RemoteService) UploadFile(ctx context.Context, localPath, remotePath string, metadata map[string]string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", domain.NewRemoteError(domain.KindInvalidPayload, "open %s: %v", localPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	_ = writer.WriteField("storage_path", remotePath)
	for k, v := range metadata {
		_ = writer.WriteField("meta."+k, v)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", domain.NewRemoteError(domain.KindInternal, "create form file: %v", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", domain.NewRemoteError(domain.KindInternal, "read %s: %v", localPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", domain.NewRemoteError(domain.KindInternal, "close multipart: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.meta.BaseURL+"/v1/files", &buf)
	if err != nil {
		return "", domain.NewRemoteError(domain.KindInternal, "build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	r.setAuth(req)

	var out struct {
		URL string `json:"url"`
	}
	if err := r.send(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// DeleteFile removes a previously uploaded file.
func (r *RemoteService) DeleteFile(ctx context.Context, ref string) error {
	body, err := json.Marshal(map[string]string{"ref": ref})
	if err != nil {
		return domain.NewRemoteError(domain.KindInvalidPayload, "marshal ref: %v", err)
	}
	return r.do(ctx, http.MethodPost, r.meta.BaseURL+"/v1/files/delete", body, nil)
}

func (r *RemoteService) collectionURL(collection string) string {
	return r.meta.BaseURL + "/v1/docs/" + collection
}

func (r *RemoteService) docURL(collection, id string) string {
	return r.collectionURL(collection) + "/" + id
}

func (r *RemoteService) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.meta.AuthKey)
	if r.meta.ClientID != "" {
		req.Header.Set("X-Client-Id", r.meta.ClientID)
	}
}

// do issues a JSON request and decodes the response into out when non-nil.
func (r *RemoteService) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return domain.NewRemoteError(domain.KindInternal, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.setAuth(req)
	return r.send(req, out)
}

func (r *RemoteService) send(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return domain.NewRemoteError(domain.KindDeadlineExceeded, "%v", err)
		}
		return domain.NewRemoteError(domain.KindUnavailable, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return r.errorFromResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewRemoteError(domain.KindInternal, "decode response: %v", err)
	}
	return nil
}

// errorFromResponse maps an error response to a structured RemoteError.
// The server replies {"error":{"kind":..., "message":...}} when it can;
// otherwise the status code decides the kind.
func (r *RemoteService) errorFromResponse(resp *http.Response) error {
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Kind != "" {
		return &domain.RemoteError{
			Kind:    domain.RemoteErrorKind(body.Error.Kind),
			Message: body.Error.Message,
		}
	}

	kind := kindFromStatus(resp.StatusCode)
	r.logger.Debug("remote error without structured body",
		log.Int("status", resp.StatusCode),
		log.String("kind", string(kind)),
	)
	return domain.NewRemoteError(kind, "status %d: %s", resp.StatusCode, string(raw))
}

func kindFromStatus(status int) domain.RemoteErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindPermissionDenied
	case status == http.StatusNotFound:
		return domain.KindNotFound
	case status == http.StatusTooManyRequests:
		return domain.KindQuotaExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.KindDeadlineExceeded
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.KindInvalidPayload
	case status >= 500:
		return domain.KindUnavailable
	default:
		return domain.KindInternal
	}
}
