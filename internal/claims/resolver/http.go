package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

const (
	DefaultPLCURL      = "https://plc.directory"
	maxDocumentBytes   = 1 << 20
	defaultHTTPTimeout = 5 * time.Second
)

// HTTPResolver fetches DID documents over HTTP: did:plc from a PLC directory,
// did:web from the well-known location of the domain.
type HTTPResolver struct {
	client    *http.Client
	plcURL    string
	webScheme string
}

// HTTPOption configures an HTTPResolver.
type HTTPOption func(*HTTPResolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(r *HTTPResolver) { r.client = c }
}

// WithPLCURL sets the PLC directory base URL.
func WithPLCURL(u string) HTTPOption {
	return func(r *HTTPResolver) { r.plcURL = strings.TrimRight(u, "/") }
}

// WithWebScheme switches did:web fetching to plain http (tests only).
func WithWebScheme(scheme string) HTTPOption {
	return func(r *HTTPResolver) { r.webScheme = scheme }
}

// NewHTTPResolver creates an HTTP DID document resolver.
func NewHTTPResolver(opts ...HTTPOption) *HTTPResolver {
	r := &HTTPResolver{
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		plcURL:    DefaultPLCURL,
		webScheme: "https",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches and parses the DID document for did.
func (r *HTTPResolver) Resolve(ctx context.Context, did string) (models.KeySet, error) {
	docURL, err := r.documentURL(did)
	if err != nil {
		return models.KeySet{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return models.KeySet{}, NewResolveError(CategoryBadData, did, "build request", err)
	}
	req.Header.Set("Accept", "application/did+ld+json, application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return models.KeySet{}, NewResolveError(CategoryTimeout, did, "fetch did document", err)
		}
		return models.KeySet{}, NewResolveError(CategoryOutage, did, "fetch did document", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return models.KeySet{}, NewResolveError(CategoryNotFound, did, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.KeySet{}, NewResolveError(CategoryRateLimited, did, "rate limited", nil)
	case resp.StatusCode >= 500:
		return models.KeySet{}, NewResolveError(CategoryOutage, did, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return models.KeySet{}, NewResolveError(CategoryBadData, did, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		return models.KeySet{}, NewResolveError(CategoryBadData, did, "decode did document", err)
	}
	return KeySetFromDocument(did, doc)
}

func (r *HTTPResolver) documentURL(did string) (string, error) {
	switch models.DIDMethod(did) {
	case "plc":
		return r.plcURL + "/" + did, nil
	case "web":
		id := strings.TrimPrefix(did, "did:web:")
		parts := strings.Split(id, ":")
		host, err := url.PathUnescape(parts[0])
		if err != nil {
			return "", NewResolveError(CategoryBadData, did, "decode did:web host", err)
		}
		if len(parts) == 1 {
			return r.webScheme + "://" + host + "/.well-known/did.json", nil
		}
		return r.webScheme + "://" + host + "/" + strings.Join(parts[1:], "/") + "/did.json", nil
	default:
		return "", NewResolveError(CategoryUnsupported, did, "http resolver handles did:plc and did:web only", nil)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
