package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"knomee/internal/consensus/handler"
	"knomee/internal/consensus/models"
	"knomee/internal/consensus/service"
	claimstore "knomee/internal/consensus/store/claim"
	vouchstore "knomee/internal/consensus/store/vouch"
	govservice "knomee/internal/governance/service"
	govstate "knomee/internal/governance/store/state"
	identityservice "knomee/internal/identity/service"
	identitystore "knomee/internal/identity/store/identity"
	"knomee/internal/ledger"
	"knomee/pkg/domain"
	"knomee/pkg/platform/clock"
	"knomee/pkg/platform/middleware/caller"
)

// Handler tests cover HTTP concerns: caller resolution, parsing, status and
// response mapping. Engine semantics live in the service tests.
type HandlerSuite struct {
	suite.Suite

	wall     *clock.Fake
	stake    *ledger.InMemoryLedger
	registry *identityservice.Registry
	engine   *service.Engine
	router   http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.wall = clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.stake = ledger.NewInMemoryLedger()

	gov := govservice.New(govstate.NewInMemory(), govservice.WithClock(s.wall))
	s.Require().NoError(gov.Initialize(context.Background(), "authority", "authority"))

	s.registry = identityservice.NewRegistry(identitystore.NewInMemory())
	s.engine = service.NewEngine(
		claimstore.NewInMemory(),
		vouchstore.NewInMemory(),
		s.registry,
		gov,
		s.stake,
	)

	r := chi.NewRouter()
	r.Use(caller.Middleware)
	handler.New(s.engine, nil).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path string, callerAddr string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if callerAddr != "" {
		req.Header.Set(caller.Header, callerAddr)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) createVerificationClaim(subject string, stake uint64) domain.ClaimID {
	s.stake.Mint(domain.Address(subject), 10*stake)
	rec := s.do(http.MethodPost, "/claims/verification", subject, map[string]any{
		"justification": "active community member",
		"stake":         stake,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.Claim
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	return resp.ID
}

func (s *HandlerSuite) TestMissingCallerIsRejected() {
	rec := s.do(http.MethodPost, "/claims/verification", "", map[string]any{"stake": 1})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *HandlerSuite) TestMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/claims/verification", bytes.NewBufferString("not json"))
	req.Header.Set(caller.Header, "alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestCreateVerificationClaim() {
	s.stake.Mint("alice", 100_000_000)
	rec := s.do(http.MethodPost, "/claims/verification", "alice", map[string]any{
		"justification": "active community member",
		"stake":         30_000_000,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.Claim
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(models.ClaimNewPrimary, resp.Type)
	s.Equal(models.StatusActive, resp.Status)
	s.Equal(domain.Address("alice"), resp.Subject)
	s.False(resp.ID.IsZero())
}

func (s *HandlerSuite) TestCreateClaimWithoutFunds() {
	rec := s.do(http.MethodPost, "/claims/verification", "pauper", map[string]any{
		"stake": 30_000_000,
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func (s *HandlerSuite) TestLinkClaimRequiresParseableAnchor() {
	rec := s.do(http.MethodPost, "/claims/link", "alice", map[string]any{
		"anchor":   "",
		"platform": "github",
		"stake":    10_000_000,
	})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestGetClaimWithVouches() {
	claimID := s.createVerificationClaim("alice", 30_000_000)

	rec := s.do(http.MethodGet, "/claims/"+claimID.String(), "anyone", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		models.Claim
		Vouches []models.Vouch `json:"vouches"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(claimID, resp.ID)
	// The implicit self-vouch comes back with the claim.
	s.Require().Len(resp.Vouches, 1)
	s.Equal(domain.Address("alice"), resp.Vouches[0].Voucher)
}

func (s *HandlerSuite) TestGetClaimBadID() {
	rec := s.do(http.MethodGet, "/claims/not-a-uuid", "anyone", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestGetClaimUnknown() {
	rec := s.do(http.MethodGet, "/claims/"+domain.NewClaimID().String(), "anyone", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestCastVouch() {
	claimID := s.createVerificationClaim("alice", 30_000_000)

	_, err := s.registry.PromoteToVerified(context.Background(), "dave", s.wall.Now())
	s.Require().NoError(err)
	s.stake.Mint("dave", 50_000_000)

	// An even split keeps the claim inside the undecided band.
	rec := s.do(http.MethodPost, fmt.Sprintf("/claims/%s/vouches", claimID), "dave", map[string]any{
		"supports": false,
		"stake":    30_000_000,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp models.Claim
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(models.StatusActive, resp.Status)
	s.Equal(uint64(30_000_000), resp.TotalAgainst)
	s.Equal(2, resp.VouchCount)
}

func (s *HandlerSuite) TestVouchByUnverifiedCallerConflicts() {
	claimID := s.createVerificationClaim("alice", 30_000_000)
	s.stake.Mint("stranger", 50_000_000)

	rec := s.do(http.MethodPost, fmt.Sprintf("/claims/%s/vouches", claimID), "stranger", map[string]any{
		"supports": true,
		"stake":    10_000_000,
	})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestRewardsOnActiveClaimConflicts() {
	claimID := s.createVerificationClaim("alice", 30_000_000)

	rec := s.do(http.MethodPost, fmt.Sprintf("/claims/%s/rewards", claimID), "alice", nil)
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestListClaimsDefaultsToActive() {
	s.createVerificationClaim("alice", 30_000_000)
	s.createVerificationClaim("bob", 30_000_000)

	rec := s.do(http.MethodGet, "/claims", "anyone", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var claims []models.Claim
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&claims))
	s.Len(claims, 2)

	rec = s.do(http.MethodGet, "/claims?status=approved", "anyone", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	claims = nil
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&claims))
	s.Empty(claims)
}

func (s *HandlerSuite) TestListClaimsBadStatus() {
	rec := s.do(http.MethodGet, "/claims?status=bogus", "anyone", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}
