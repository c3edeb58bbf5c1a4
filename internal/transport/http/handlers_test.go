package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"idregistry/internal/platform/metrics"
	"idregistry/internal/registry/engine"
	"idregistry/internal/registry/exclusions"
	"idregistry/internal/registry/query"
	"idregistry/internal/registry/store/memory"
)

type HandlerSuite struct {
	suite.Suite

	server *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	eng := engine.New(st, logger, m)
	qs := query.New(st, query.Config{})
	cache := exclusions.New(nil, st, logger)
	h := NewHandler(eng, qs, cache, logger)
	s.server = httptest.NewServer(NewRouter(h, m, registry))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) do(method, path string, body any) *http.Response {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, buf)
	s.Require().NoError(err)
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decodeBody(resp *http.Response, dst any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(dst))
}

func (s *HandlerSuite) TestIdentityLifecycle() {
	resp := s.do(http.MethodPost, "/api/v1/identities", map[string]any{
		"source": "git",
		"email":  "jdoe@example.com",
		"name":   "John Doe",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created struct {
		ID   string `json:"id"`
		UUID string `json:"uuid"`
	}
	s.decodeBody(resp, &created)
	s.NotEmpty(created.ID)
	s.Equal(created.ID, created.UUID)

	resp = s.do(http.MethodGet, "/api/v1/unique-identities/"+created.UUID, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var uid struct {
		Identities []struct {
			Source string `json:"source"`
		} `json:"identities"`
	}
	s.decodeBody(resp, &uid)
	s.Require().Len(uid.Identities, 1)
	s.Equal("git", uid.Identities[0].Source)

	resp = s.do(http.MethodDelete, "/api/v1/identities/"+created.ID, nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/unique-identities/"+created.UUID, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestAddIdentityRejectsEmptyPayload() {
	resp := s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "git"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	s.decodeBody(resp, &body)
	s.Equal("invalid_value", body.Error)
}

func (s *HandlerSuite) TestMoveAndMerge() {
	var a, b struct {
		UUID string `json:"uuid"`
	}
	resp := s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "git", "email": "a@example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decodeBody(resp, &a)
	resp = s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "github", "username": "b"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decodeBody(resp, &b)

	resp = s.do(http.MethodPost, "/api/v1/unique-identities/"+a.UUID+"/merge", map[string]any{"uuid": b.UUID})
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/unique-identities/"+b.UUID, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var uid struct {
		Identities []json.RawMessage `json:"identities"`
	}
	s.decodeBody(resp, &uid)
	s.Len(uid.Identities, 2)

	resp = s.do(http.MethodGet, "/api/v1/unique-identities/"+a.UUID, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestProfileUpdate() {
	var created struct {
		UUID string `json:"uuid"`
	}
	resp := s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "git", "email": "p@example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decodeBody(resp, &created)

	resp = s.do(http.MethodPut, "/api/v1/unique-identities/"+created.UUID+"/profile", map[string]any{
		"name":   "Jane",
		"is_bot": true,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var profile struct {
		Name  *string `json:"name"`
		IsBot bool    `json:"is_bot"`
	}
	s.decodeBody(resp, &profile)
	s.Require().NotNil(profile.Name)
	s.Equal("Jane", *profile.Name)
	s.True(profile.IsBot)

	resp = s.do(http.MethodPut, "/api/v1/unique-identities/"+created.UUID+"/profile", map[string]any{
		"gender_acc": 50,
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestEnrollmentEndpoints() {
	var created struct {
		UUID string `json:"uuid"`
	}
	resp := s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "git", "email": "e@example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decodeBody(resp, &created)

	resp = s.do(http.MethodPost, "/api/v1/organizations", map[string]any{"name": "Acme"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	path := "/api/v1/unique-identities/" + created.UUID + "/enrollments"
	resp = s.do(http.MethodPost, path, map[string]any{
		"organization": "Acme",
		"from_date":    "2010-01-01",
		"to_date":      "2015-06-30T00:00:00Z",
	})
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, path, map[string]any{
		"organization": "Acme",
		"from_date":    "not-a-date",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, path+"/withdraw", map[string]any{
		"organization": "Acme",
		"from_date":    "2011-01-01",
		"to_date":      "2012-01-01",
	})
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/unique-identities/"+created.UUID, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var uid struct {
		Enrollments []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"enrollments"`
	}
	s.decodeBody(resp, &uid)
	s.Len(uid.Enrollments, 2)
}

func (s *HandlerSuite) TestOrganizationEndpoints() {
	resp := s.do(http.MethodPost, "/api/v1/organizations", map[string]any{"name": "Initech"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, "/api/v1/organizations", map[string]any{"name": "Initech"})
	s.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, "/api/v1/organizations/Initech/domains", map[string]any{
		"domain":        "initech.com",
		"is_top_domain": true,
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/organizations/Initech", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var org struct {
		Name    string `json:"name"`
		Domains []struct {
			Domain string `json:"domain"`
		} `json:"domains"`
	}
	s.decodeBody(resp, &org)
	s.Equal("Initech", org.Name)
	s.Require().Len(org.Domains, 1)
	s.Equal("initech.com", org.Domains[0].Domain)

	resp = s.do(http.MethodDelete, "/api/v1/domains/initech.com", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodDelete, "/api/v1/organizations/Initech", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/organizations/Initech", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestCountryEndpoints() {
	resp := s.do(http.MethodPost, "/api/v1/countries", []map[string]any{
		{"code": "ES", "name": "Spain", "alpha3": "ESP"},
		{"code": "US", "name": "United States of America", "alpha3": "USA"},
	})
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPost, "/api/v1/countries", []map[string]any{
		{"code": "ESP", "name": "Spain"},
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/countries", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var countries []struct {
		Code string `json:"code"`
	}
	s.decodeBody(resp, &countries)
	s.Require().Len(countries, 2)
	s.Equal("ES", countries[0].Code)

	var created struct {
		UUID string `json:"uuid"`
	}
	resp = s.do(http.MethodPost, "/api/v1/identities", map[string]any{"source": "git", "email": "c@example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decodeBody(resp, &created)

	resp = s.do(http.MethodPut, "/api/v1/unique-identities/"+created.UUID+"/profile", map[string]any{
		"country_code": "ES",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodPut, "/api/v1/unique-identities/"+created.UUID+"/profile", map[string]any{
		"country_code": "XX",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestOrganizationPagination() {
	for _, name := range []string{"a", "b", "c"} {
		resp := s.do(http.MethodPost, "/api/v1/organizations", map[string]any{"name": name})
		s.Require().Equal(http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := s.do(http.MethodGet, "/api/v1/organizations?page=2&page_size=2", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page struct {
		Items        []json.RawMessage `json:"items"`
		TotalResults int               `json:"total_results"`
		NumPages     int               `json:"num_pages"`
		HasPrev      bool              `json:"has_prev"`
	}
	s.decodeBody(resp, &page)
	s.Len(page.Items, 1)
	s.Equal(3, page.TotalResults)
	s.Equal(2, page.NumPages)
	s.True(page.HasPrev)

	resp = s.do(http.MethodGet, "/api/v1/organizations?page=zero", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/organizations?country=es", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestBlacklistEndpoints() {
	resp := s.do(http.MethodPost, "/api/v1/blacklist", map[string]any{"term": "root@example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/blacklist/check?term=root@example.com", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var check struct {
		Excluded bool `json:"excluded"`
	}
	s.decodeBody(resp, &check)
	s.True(check.Excluded)

	resp = s.do(http.MethodGet, "/api/v1/blacklist/check", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/blacklist", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var entries []struct {
		Excluded string `json:"excluded"`
	}
	s.decodeBody(resp, &entries)
	s.Require().Len(entries, 1)
	s.Equal("root@example.com", entries[0].Excluded)

	resp = s.do(http.MethodDelete, "/api/v1/blacklist/root@example.com", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/blacklist/check?term=root@example.com", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decodeBody(resp, &check)
	s.False(check.Excluded)
}

func (s *HandlerSuite) TestProvenanceEndpoints() {
	resp := s.do(http.MethodPost, "/api/v1/organizations", map[string]any{"name": "Acme"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/contexts?operation=add_organization", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var contexts struct {
		Items []struct {
			CUID      string `json:"cuid"`
			Operation string `json:"operation"`
		} `json:"items"`
	}
	s.decodeBody(resp, &contexts)
	s.Require().Len(contexts.Items, 1)
	s.Equal("add_organization", contexts.Items[0].Operation)

	cuid := contexts.Items[0].CUID
	resp = s.do(http.MethodGet, "/api/v1/contexts/"+cuid, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/transactions?cuid="+cuid, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var txns struct {
		Items []struct {
			Entity string `json:"entity"`
			Change string `json:"change"`
		} `json:"items"`
	}
	s.decodeBody(resp, &txns)
	s.Require().Len(txns.Items, 1)
	s.Equal("organization", txns.Items[0].Entity)
	s.Equal("add", txns.Items[0].Change)

	resp = s.do(http.MethodGet, "/api/v1/contexts/missing", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/contexts?operation=nope", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/contexts?actor=admin", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/api/v1/transactions?entity=nope", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestHealthAndMetrics() {
	resp := s.do(http.MethodGet, "/healthz", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
