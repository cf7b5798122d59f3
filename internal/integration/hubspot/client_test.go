package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/httpclient"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/retry"
	"github.com/stretchr/testify/suite"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type ClientSuite struct {
	suite.Suite
	ctx      context.Context
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
	client   HubSpotClient
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.requests = nil
	s.handlers = map[string]http.HandlerFunc{
		"GET /crm/v3/properties/tickets": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"results":[{"name":"billing_key"},{"name":"billing_date"},{"name":"hs_pipeline_stage"},{"name":"old_prop","archived":true}]}`)
		},
		"GET /crm/v3/properties/deals": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"results":[{"name":"dealstage"},{"name":"billing_paused"}]}`)
		},
	}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		h, ok := s.handlers[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		s.Equal("Bearer test-token", r.Header.Get("Authorization"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":"error","message":"not found"}`)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		h(w, r)
	}))

	cfg := config.GetDefaultConfig()
	cfg.HubSpot.BaseURL = s.server.URL
	cfg.HubSpot.AccessToken = "test-token"
	cfg.HubSpot.ClientSecret = "secret"
	cfg.HubSpot.RequestsPerSecond = 1000
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond

	log := logger.NewNopLogger()
	s.client = NewClient(cfg,
		httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: 2 * time.Second}, log),
		retry.New(cfg.Retry, log),
		log)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) handle(route string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[route] = h
}

func (s *ClientSuite) requestsTo(method, path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *ClientSuite) TestGetObject_FiltersUnknownProperties() {
	s.handle("GET /crm/v3/objects/deals/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"42","properties":{"dealstage":"closedwon","billing_paused":null}}`)
	})

	deal, err := s.client.GetObject(s.ctx, ObjectTypeDeal, "42", []string{"dealstage", "billing_paused", "not_in_portal"})
	s.Require().NoError(err)
	s.Equal("42", deal.ID)
	s.Equal("closedwon", deal.Get("dealstage"))
	s.Equal("", deal.Get("billing_paused"))

	reqs := s.requestsTo(http.MethodGet, "/crm/v3/objects/deals/42")
	s.Require().Len(reqs, 1)
	s.Equal("properties=dealstage%2Cbilling_paused", reqs[0].Query)
}

func (s *ClientSuite) TestGetObject_NotFound() {
	_, err := s.client.GetObject(s.ctx, ObjectTypeDeal, "404", nil)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
	s.Len(s.requestsTo(http.MethodGet, "/crm/v3/objects/deals/404"), 1)

	details := ierr.ReportableDetails(err)
	s.Equal("get deals", details["operation"])
	s.Equal(float64(http.StatusNotFound), details["status_code"])
}

func (s *ClientSuite) TestSchemaIsCachedUntilInvalidated() {
	s.handle("PATCH /crm/v3/objects/deals/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"1","properties":{}}`)
	})

	s.Require().NoError(s.client.UpdateObject(s.ctx, ObjectTypeDeal, "1", map[string]string{"billing_paused": "true"}))
	s.Require().NoError(s.client.UpdateObject(s.ctx, ObjectTypeDeal, "1", map[string]string{"dealstage": "x"}))
	s.Len(s.requestsTo(http.MethodGet, "/crm/v3/properties/deals"), 1)

	s.client.InvalidateSchema()
	s.Require().NoError(s.client.UpdateObject(s.ctx, ObjectTypeDeal, "1", map[string]string{"dealstage": "y"}))
	s.Len(s.requestsTo(http.MethodGet, "/crm/v3/properties/deals"), 2)
}

func (s *ClientSuite) TestUpdateObject_StripsUnknownProperties() {
	s.handle("PATCH /crm/v3/objects/deals/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"7"}`)
	})

	err := s.client.UpdateObject(s.ctx, ObjectTypeDeal, "7", map[string]string{
		"billing_paused":    "false",
		"billing_next_date": "2026-03-14",
	})
	s.Require().NoError(err)

	reqs := s.requestsTo(http.MethodPatch, "/crm/v3/objects/deals/7")
	s.Require().Len(reqs, 1)
	s.JSONEq(`{"properties":{"billing_paused":"false"}}`, reqs[0].Body)
}

func (s *ClientSuite) TestUpdateObject_NothingKnownSkipsRequest() {
	err := s.client.UpdateObject(s.ctx, ObjectTypeDeal, "7", map[string]string{"unknown": "x"})
	s.Require().NoError(err)
	s.Empty(s.requestsTo(http.MethodPatch, "/crm/v3/objects/deals/7"))
}

func (s *ClientSuite) TestSearchAll_FollowsCursor() {
	s.handle("POST /crm/v3/objects/tickets/search", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"after":"2"`) {
			_, _ = io.WriteString(w, `{"total":3,"results":[{"id":"t3","properties":{"billing_key":"k3"}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"total":3,"results":[{"id":"t1"},{"id":"t2"}],"paging":{"next":{"after":"2"}}}`)
	})

	results, err := s.client.SearchAll(s.ctx, ObjectTypeTicket, SearchRequest{
		FilterGroups: []FilterGroup{{Filters: []Filter{{PropertyName: "billing_deal_id", Operator: OperatorEQ, Value: "42"}}}},
		Properties:   []string{"billing_key", "billing_deal_id"},
	})
	s.Require().NoError(err)
	s.Len(results, 3)
	s.Equal("k3", results[2].Get("billing_key"))

	reqs := s.requestsTo(http.MethodPost, "/crm/v3/objects/tickets/search")
	s.Require().Len(reqs, 2)
	s.Contains(reqs[0].Body, `"limit":100`)
	s.Contains(reqs[0].Body, `"properties":["billing_key"]`)
}

func (s *ClientSuite) TestRetriesServerErrors() {
	calls := 0
	s.handle("POST /crm/v3/objects/tickets/batch/archive", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := s.client.BatchArchive(s.ctx, ObjectTypeTicket, []string{"1", "2", "1", ""})
	s.Require().NoError(err)
	s.Equal(3, calls)

	reqs := s.requestsTo(http.MethodPost, "/crm/v3/objects/tickets/batch/archive")
	s.JSONEq(`{"inputs":[{"id":"1"},{"id":"2"}]}`, reqs[0].Body)
}

func (s *ClientSuite) TestRateLimitedIsMarked() {
	s.handle("POST /crm/v3/objects/tickets/batch/archive", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := s.client.BatchArchive(s.ctx, ObjectTypeTicket, []string{"1"})
	s.Require().Error(err)
	s.True(ierr.IsRateLimited(err))
	s.Len(s.requestsTo(http.MethodPost, "/crm/v3/objects/tickets/batch/archive"), 3)
}

func (s *ClientSuite) TestBatchCreate_PartialFailure() {
	s.handle("POST /crm/v3/objects/tickets/batch/create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, `{"status":"COMPLETE","results":[{"id":"t1","properties":{"billing_key":"a"}}],"errors":[{"status":"error","category":"VALIDATION_ERROR","message":"bad stage"}],"numErrors":1}`)
	})

	created, err := s.client.BatchCreate(s.ctx, ObjectTypeTicket, []CreateInput{
		{
			Properties: map[string]string{"billing_key": "a", "subject": "dropped"},
			Associations: []AssociationInput{{
				To:    ObjectID{ID: "42"},
				Types: []AssociationSpec{{AssociationCategory: AssociationCategoryHubSpotDefined, AssociationTypeID: AssociationTypeTicketToDeal}},
			}},
		},
		{Properties: map[string]string{"billing_key": "b"}},
	})
	s.Require().Error(err)
	s.Len(created, 1)
	s.Contains(ierr.HintOf(err), "bad stage")

	reqs := s.requestsTo(http.MethodPost, "/crm/v3/objects/tickets/batch/create")
	s.Require().Len(reqs, 1)
	s.Contains(reqs[0].Body, `"associationTypeId":28`)
	s.NotContains(reqs[0].Body, "dropped")
}

func (s *ClientSuite) TestListAssociations_Paginates() {
	s.handle("GET /crm/v4/objects/deals/42/associations/line_items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			_, _ = io.WriteString(w, `{"results":[{"toObjectId":1,"associationTypes":[{"category":"HUBSPOT_DEFINED","typeId":19}]}],"paging":{"next":{"after":"abc"}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{"toObjectId":2},{"toObjectId":1}]}`)
	})

	ids, err := s.client.ListAssociations(s.ctx, ObjectTypeDeal, "42", ObjectTypeLineItem)
	s.Require().NoError(err)
	s.Equal([]string{"1", "2"}, ids)
}

func (s *ClientSuite) TestVerifyWebhookSignatureV3() {
	body := []byte(`[{"objectId":42}]`)
	source := "POST" + "https://example.com/webhooks/hubspot" + string(body) + "1700000000000"
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(source))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	s.True(s.client.VerifyWebhookSignatureV3("POST", "https://example.com/webhooks/hubspot", body, "1700000000000", signature))
	s.False(s.client.VerifyWebhookSignatureV3("POST", "https://example.com/webhooks/hubspot", body, "1700000000001", signature))
	s.False(s.client.VerifyWebhookSignatureV3("POST", "https://example.com/webhooks/hubspot", body, "1700000000000", ""))
}
