package signalservice

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// APIService is the default Service implementation: a thin REST client
// against a message-relay server, scoped to the operations the receive
// path needs (device liveness, attachment download, stream URL
// resolution, and the generic authenticated request used for drain-mode
// message fetch/delete).
type APIService struct {
	transport *Transport
	cdn       *http.Client
	cdnBase   string
	wsURL     string
	auth      BasicAuth
	logger    *log.Logger
}

// APIServiceConfig configures an APIService.
type APIServiceConfig struct {
	APIURL    string
	CDNURL    string
	StreamURL string
	TLSConfig *tls.Config
	Auth      BasicAuth
	Logger    *log.Logger
}

// NewAPIService returns an APIService talking to the given message-relay
// deployment.
func NewAPIService(cfg APIServiceConfig) *APIService {
	cdnClient := &http.Client{}
	if cfg.TLSConfig != nil {
		cdnClient.Transport = &http.Transport{TLSClientConfig: cfg.TLSConfig}
	}
	return &APIService{
		transport: NewTransport(cfg.APIURL, cfg.TLSConfig, cfg.Logger),
		cdn:       cdnClient,
		cdnBase:   cfg.CDNURL,
		wsURL:     cfg.StreamURL,
		auth:      cfg.Auth,
		logger:    cfg.Logger,
	}
}

// Request implements Service.
func (s *APIService) Request(ctx context.Context, call Call, result any) error {
	path := call.Path
	if len(call.URLParameters) > 0 {
		q := url.Values{}
		for k, v := range call.URLParameters {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	var body []byte
	var status int
	var err error
	switch strings.ToUpper(call.Method) {
	case http.MethodGet:
		body, status, err = s.transport.Get(ctx, path, &s.auth)
	case http.MethodPut:
		if call.Body != nil {
			body, status, err = s.transport.PutJSON(ctx, path, call.Body, &s.auth)
		} else {
			body, status, err = s.transport.Put(ctx, path, nil, &s.auth)
		}
	case http.MethodPost:
		if call.Body != nil {
			body, status, err = s.transport.PostJSON(ctx, path, call.Body, &s.auth)
		} else {
			body, status, err = s.transport.Post(ctx, path, nil, &s.auth)
		}
	case http.MethodDelete:
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, s.transport.baseURL+path, nil)
		if reqErr != nil {
			return fmt.Errorf("service: new delete request: %w", reqErr)
		}
		req.SetBasicAuth(s.auth.Username, s.auth.Password)
		body, status, err = s.transport.doAndRead(req)
	default:
		return fmt.Errorf("service: unsupported method %q", call.Method)
	}
	if err != nil {
		return fmt.Errorf("service: %s %s: %w", call.Method, call.Path, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("service: %s %s: status %d: %s", call.Method, call.Path, status, body)
	}
	return decodeJSONResult(body, result)
}

func decodeJSONResult(body []byte, result any) error {
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("service: unmarshal response: %w", err)
	}
	return nil
}

// GetDevices implements Service.
func (s *APIService) GetDevices(ctx context.Context) ([]DeviceInfo, error) {
	var result deviceListResponse
	if err := s.Request(ctx, Call{Method: http.MethodGet, Path: "/v1/devices/"}, &result); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

// GetAttachment implements Service: it downloads raw ciphertext from the
// CDN. Decryption is the caller's (AttachmentFetcher's) responsibility.
func (s *APIService) GetAttachment(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cdnBase+"/attachments/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("service: new attachment request: %w", err)
	}
	resp, err := s.cdn.Do(req)
	if err != nil {
		return nil, fmt.Errorf("service: download attachment %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service: download attachment %s: status %d", id, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("service: read attachment %s: %w", id, err)
	}
	return data, nil
}

// GetMessageStreamURL implements Service. If the deployment config fixed a
// stream URL, it's returned directly; otherwise it's resolved from the API.
func (s *APIService) GetMessageStreamURL(ctx context.Context) (string, error) {
	if s.wsURL != "" {
		return s.wsURL, nil
	}
	var result messageStreamResponse
	if err := s.Request(ctx, Call{Method: http.MethodGet, Path: "/v1/websocket"}, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

var _ Service = (*APIService)(nil)
