package handler_test

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/handler"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/handler/mocks"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/service"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
	"github.com/Cooperation-org/claim-lexicon/pkg/platform/httputil"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil"
)

type MockedServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
	uri     models.Locator
}

func TestMockedServiceSuite(t *testing.T) {
	suite.Run(t, new(MockedServiceSuite))
}

func (s *MockedServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.uri = testutil.LocatorOf(testutil.TestDIDs.Alice, "r1")

	r := chi.NewRouter()
	handler.New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
}

func (s *MockedServiceSuite) get(method string, q url.Values) (*httptest.ResponseRecorder, httputil.ErrorResponse) {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, handler.NSIDPrefix+method+"?"+q.Encode(), nil))
	var envelope httputil.ErrorResponse
	if w.Code >= 400 {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &envelope))
	}
	return w, envelope
}

func (s *MockedServiceSuite) TestListOptionsReachService() {
	s.service.EXPECT().
		GetBySubject(gomock.Any(), "https://ngo.example", service.ListOptions{IncludeDeleted: true, After: 9, Limit: 5}).
		Return(service.Page{}, nil)

	w, _ := s.get("getBySubject", url.Values{
		"subject":        {"https://ngo.example"},
		"includeDeleted": {"true"},
		"cursor":         {"9"},
		"limit":          {"5"},
	})
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"claims":[]}`, w.Body.String())
}

func (s *MockedServiceSuite) TestDigestLookupSkipsLocatorLookup() {
	digest := models.DigestOf([]byte(`{}`))
	s.service.EXPECT().GetByDigest(gomock.Any(), digest).Return(nil, dErrors.New(dErrors.CodeNotFound, "no claim with that digest"))
	s.service.EXPECT().GetClaim(gomock.Any(), gomock.Any()).Times(0)

	w, envelope := s.get("getClaim", url.Values{"digest": {digest.String()}})
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("NotFound", envelope.Error)
	s.Equal("no claim with that digest", envelope.Message)
}

func (s *MockedServiceSuite) TestTrustGraphDepth() {
	s.service.EXPECT().GetTrustGraph(gomock.Any(), s.uri, 1).Return(models.TrustGraph{Root: s.uri}, nil)
	s.service.EXPECT().GetTrustGraph(gomock.Any(), s.uri, 3).Return(models.TrustGraph{Root: s.uri}, nil)

	w, _ := s.get("getTrustGraph", url.Values{"uri": {s.uri.String()}})
	s.Equal(http.StatusOK, w.Code)
	w, _ = s.get("getTrustGraph", url.Values{"uri": {s.uri.String()}, "depth": {"3"}})
	s.Equal(http.StatusOK, w.Code)
}

func (s *MockedServiceSuite) TestServiceErrorsMapToXRPC() {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"timeout", dErrors.New(dErrors.CodeTimeout, "trust graph traversal cancelled"), http.StatusGatewayTimeout, "UpstreamTimeout"},
		{"unavailable", dErrors.New(dErrors.CodeUnavailable, "not ready"), http.StatusServiceUnavailable, "NotEnoughResources"},
		{"plain error", errors.New("connection refused"), http.StatusInternalServerError, "InternalServerError"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.service.EXPECT().TrustScore(gomock.Any(), s.uri).Return(models.TrustScore{}, tt.err)

			w, envelope := s.get("getTrustScore", url.Values{"uri": {s.uri.String()}})
			s.Equal(tt.wantStatus, w.Code)
			s.Equal(tt.wantError, envelope.Error)
			s.NotContains(w.Body.String(), "connection refused")
		})
	}
}

func (s *MockedServiceSuite) TestRequestContextReachesService() {
	s.service.EXPECT().GetAttestations(gomock.Any(), s.uri).DoAndReturn(
		func(ctx context.Context, _ models.Locator) (models.Attestations, error) {
			s.NoError(ctx.Err())
			return models.Attestations{}, nil
		})

	w, _ := s.get("getAttestations", url.Values{"uri": {s.uri.String()}})
	s.Equal(http.StatusOK, w.Code)
}
