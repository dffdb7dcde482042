// Package handler exposes the query service over XRPC-style HTTP routes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/service"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/middleware"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
	"github.com/Cooperation-org/claim-lexicon/pkg/platform/httputil"
	"github.com/Cooperation-org/claim-lexicon/pkg/validation"
)

// NSIDPrefix namespaces the query methods.
const NSIDPrefix = "/xrpc/org.claims."

// Service defines the query operations used by the handler.
type Service interface {
	GetBySubject(ctx context.Context, subject string, opts service.ListOptions) (service.Page, error)
	GetBySigner(ctx context.Context, did string, opts service.ListOptions) (service.Page, error)
	GetByType(ctx context.Context, claimType string, opts service.ListOptions) (service.Page, error)
	GetClaim(ctx context.Context, uri models.Locator) (*models.Claim, error)
	GetByDigest(ctx context.Context, digest models.Digest) (*models.Claim, error)
	GetAttestations(ctx context.Context, uri models.Locator) (models.Attestations, error)
	GetTrustGraph(ctx context.Context, uri models.Locator, depth int) (models.TrustGraph, error)
	TrustScore(ctx context.Context, uri models.Locator) (models.TrustScore, error)
	Reverify(ctx context.Context, uri models.Locator) (*models.Claim, error)
	ReverifySigner(ctx context.Context, did string) (int, error)
}

// Handler wires query endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a handler.
func New(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, logger: logger}
}

// Register mounts the read-only query routes.
func (h *Handler) Register(r chi.Router) {
	r.Get(NSIDPrefix+"getBySubject", h.HandleGetBySubject)
	r.Get(NSIDPrefix+"getBySigner", h.HandleGetBySigner)
	r.Get(NSIDPrefix+"getByType", h.HandleGetByType)
	r.Get(NSIDPrefix+"getClaim", h.HandleGetClaim)
	r.Get(NSIDPrefix+"getAttestations", h.HandleGetAttestations)
	r.Get(NSIDPrefix+"getTrustGraph", h.HandleGetTrustGraph)
	r.Get(NSIDPrefix+"getTrustScore", h.HandleGetTrustScore)
}

// RegisterAdmin mounts the administrative routes behind the admin token.
func (h *Handler) RegisterAdmin(r chi.Router, adminToken string) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(adminToken, h.logger))
		r.Use(middleware.ContentTypeJSON)
		r.Post("/admin/reverify", h.HandleReverify)
	})
}

// HandleGetBySubject handles GET getBySubject?subject=&includeDeleted=.
func (h *Handler) HandleGetBySubject(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.GetBySubject(r.Context(), r.URL.Query().Get("subject"), opts)
	if err != nil {
		h.fail(w, r, "get by subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(page))
}

// HandleGetBySigner handles GET getBySigner?signer=.
func (h *Handler) HandleGetBySigner(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.GetBySigner(r.Context(), r.URL.Query().Get("signer"), opts)
	if err != nil {
		h.fail(w, r, "get by signer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(page))
}

// HandleGetByType handles GET getByType?claimType=.
func (h *Handler) HandleGetByType(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.GetByType(r.Context(), r.URL.Query().Get("claimType"), opts)
	if err != nil {
		h.fail(w, r, "get by type", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(page))
}

// HandleGetClaim handles GET getClaim?uri= or getClaim?digest=.
func (h *Handler) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		c   *models.Claim
		err error
	)
	switch {
	case q.Get("uri") != "" && q.Get("digest") != "":
		err = dErrors.New(dErrors.CodeInvalidInput, "pass uri or digest, not both")
	case q.Get("digest") != "":
		var digest models.Digest
		if digest, err = models.ParseDigest(q.Get("digest")); err == nil {
			c, err = h.service.GetByDigest(r.Context(), digest)
		}
	default:
		var uri models.Locator
		if uri, err = models.ParseLocator(q.Get("uri")); err == nil {
			c, err = h.service.GetClaim(r.Context(), uri)
		}
	}
	if err != nil {
		h.fail(w, r, "get claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClaimView(c))
}

// HandleGetAttestations handles GET getAttestations?uri=.
func (h *Handler) HandleGetAttestations(w http.ResponseWriter, r *http.Request) {
	uri, err := models.ParseLocator(r.URL.Query().Get("uri"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	att, err := h.service.GetAttestations(r.Context(), uri)
	if err != nil {
		h.fail(w, r, "get attestations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAttestationsResponse(att))
}

// HandleGetTrustGraph handles GET getTrustGraph?uri=&depth=.
func (h *Handler) HandleGetTrustGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri, err := models.ParseLocator(q.Get("uri"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	depth := 1
	if raw := q.Get("depth"); raw != "" {
		if depth, err = strconv.Atoi(raw); err != nil || depth < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "depth must be a positive integer"))
			return
		}
	}
	g, err := h.service.GetTrustGraph(r.Context(), uri, depth)
	if err != nil {
		h.fail(w, r, "get trust graph", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTrustGraphResponse(g))
}

// HandleGetTrustScore handles GET getTrustScore?uri=.
func (h *Handler) HandleGetTrustScore(w http.ResponseWriter, r *http.Request) {
	uri, err := models.ParseLocator(r.URL.Query().Get("uri"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	score, err := h.service.TrustScore(r.Context(), uri)
	if err != nil {
		h.fail(w, r, "get trust score", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, score)
}

// ReverifyRequest names either one claim or one signer.
type ReverifyRequest struct {
	URI    string `json:"uri,omitempty" validate:"required_without=Signer,excluded_with=Signer,atlocator"`
	Signer string `json:"signer,omitempty" validate:"required_without=URI,excluded_with=URI,atdid"`

	parsedURI models.Locator
}

// Validate checks that exactly one target is named.
func (r *ReverifyRequest) Validate() error {
	r.URI = strings.TrimSpace(r.URI)
	r.Signer = strings.TrimSpace(r.Signer)
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.URI != "" {
		uri, err := models.ParseLocator(r.URI)
		if err != nil {
			return err
		}
		r.parsedURI = uri
	}
	return nil
}

// ReverifyResponse reports what was requeued.
type ReverifyResponse struct {
	Requeued int        `json:"requeued"`
	Claim    *ClaimView `json:"claim,omitempty"`
}

// HandleReverify handles POST /admin/reverify.
func (h *Handler) HandleReverify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndValidate[ReverifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if req.parsedURI != "" {
		c, err := h.service.Reverify(ctx, req.parsedURI)
		if err != nil {
			h.fail(w, r, "reverify claim", err)
			return
		}
		view := toClaimView(c)
		requeued := 0
		if c.Verdict == models.VerdictPending {
			requeued = 1
		}
		httputil.WriteJSON(w, http.StatusAccepted, ReverifyResponse{Requeued: requeued, Claim: &view})
		return
	}

	n, err := h.service.ReverifySigner(ctx, req.Signer)
	if err != nil {
		h.fail(w, r, "reverify signer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, ReverifyResponse{Requeued: n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !dErrors.HasCode(err, dErrors.CodeNotFound) && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
		h.logger.ErrorContext(r.Context(), "query failed",
			"op", op,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func listOptions(r *http.Request) (service.ListOptions, error) {
	q := r.URL.Query()
	var opts service.ListOptions
	if raw := q.Get("includeDeleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, dErrors.New(dErrors.CodeInvalidInput, "includeDeleted must be a boolean")
		}
		opts.IncludeDeleted = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return opts, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		opts.Limit = v
	}
	if raw := q.Get("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return opts, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
		}
		opts.After = v
	}
	return opts, nil
}
