package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/guest"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("error", "json")
}

type fakeRepo struct {
	db.Repository

	batch   *model.Batch
	reports int
}

func (f *fakeRepo) GetBatch(_ context.Context, batchID string) (*model.Batch, error) {
	if f.batch == nil || f.batch.ID != batchID {
		return nil, pkgerrors.ErrBatchNotFound
	}
	return f.batch, nil
}

func (f *fakeRepo) GetBatchStatus(_ context.Context, batchID string) (*model.BatchStatusResponse, error) {
	return &model.BatchStatusResponse{BatchID: batchID}, nil
}

func (f *fakeRepo) InsertStudentReport(_ context.Context, _ *model.Student, _ *model.Report) error {
	f.reports++
	return nil
}

type fakeLedger struct {
	credit.Ledger

	balance  int
	consumed int
}

func (f *fakeLedger) Consume(_ context.Context, _ string, amount int, _ string) error {
	if f.balance < amount {
		return pkgerrors.ErrInsufficientCredits
	}
	f.balance -= amount
	f.consumed += amount
	return nil
}

func (f *fakeLedger) Balance(_ context.Context, _ string) (int, error) {
	return f.balance, nil
}

type fakeGenerator struct {
	comment string
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return f.comment, f.err
}

type memoryCounter struct {
	counts map[string]int64
}

func (m *memoryCounter) Incr(_ context.Context, key string) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryCounter) Value(_ context.Context, key string) (int64, error) {
	return m.counts[key], nil
}

func newGuestQuota(limit int) *guest.Quota {
	return guest.NewQuota(&memoryCounter{counts: make(map[string]int64)}, limit)
}

func newTestRouter(repo *fakeRepo, ledger *fakeLedger, gen *fakeGenerator, quota *guest.Quota) *gin.Engine {
	cfg := &config.Config{}
	cfg.App.Name = "kriterix"
	cfg.Credits.SingleCost = 1

	h := NewHandler(cfg, repo, nil, ledger, gen, nil, quota)

	r := gin.New()
	r.Use(IdentityMiddleware())
	r.POST("/generate", h.Generate)

	authed := r.Group("/", RequireUser())
	authed.GET("/batch/:batch_id/status", h.GetBatchStatus)
	authed.GET("/credits/balance", h.GetCreditBalance)
	return r
}

func doJSON(r *gin.Engine, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const generateBody = `{"grade_level":"5th Grade","pronouns":"she/her","strength":"reading","weakness":"focus"}`

func TestGenerateConsumesOneCredit(t *testing.T) {
	repo := &fakeRepo{}
	ledger := &fakeLedger{balance: 5}
	router := newTestRouter(repo, ledger, &fakeGenerator{comment: "A great term."}, nil)

	w := doJSON(router, http.MethodPost, "/generate", "u1", generateBody)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		Comment string `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "A great term.", resp.Comment)

	assert.Equal(t, 1, ledger.consumed)
	assert.Equal(t, 1, repo.reports)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeLedger{balance: 0}, &fakeGenerator{comment: "x"}, nil)

	w := doJSON(router, http.MethodPost, "/generate", "u1", generateBody)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient credits")
}

func TestGenerateFailureAfterConsumeIsNotRefunded(t *testing.T) {
	ledger := &fakeLedger{balance: 5}
	router := newTestRouter(&fakeRepo{}, ledger, &fakeGenerator{err: pkgerrors.ErrGenerationTimeout}, nil)

	w := doJSON(router, http.MethodPost, "/generate", "u1", generateBody)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "AI Generation Failed")
	assert.Equal(t, 4, ledger.balance)
}

func TestGenerateRejectsBadBody(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeLedger{balance: 5}, &fakeGenerator{comment: "x"}, nil)

	w := doJSON(router, http.MethodPost, "/generate", "u1", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthedRoutesRequireIdentity(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeLedger{}, &fakeGenerator{}, nil)

	w := doJSON(router, http.MethodGet, "/credits/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetBatchStatusHidesOtherUsersBatches(t *testing.T) {
	repo := &fakeRepo{batch: &model.Batch{ID: "b1", UserID: "owner"}}
	router := newTestRouter(repo, &fakeLedger{}, &fakeGenerator{}, nil)

	w := doJSON(router, http.MethodGet, "/batch/b1/status", "intruder", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/batch/b1/status", "owner", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "b1")
}

func TestGetCreditBalance(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeLedger{balance: 42}, &fakeGenerator{}, nil)

	w := doJSON(router, http.MethodGet, "/credits/balance", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"credits":42}`, w.Body.String())
}

func TestGenerateGuestQuota(t *testing.T) {
	repo := &fakeRepo{}
	ledger := &fakeLedger{balance: 100}
	router := newTestRouter(repo, ledger, &fakeGenerator{comment: "A great term."}, newGuestQuota(3))

	// Guests get three free generations from the same IP.
	for i := 0; i < 3; i++ {
		w := doJSON(router, http.MethodPost, "/generate", "", generateBody)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Success       bool   `json:"success"`
			Comment       string `json:"comment"`
			RemainingFree int    `json:"remaining_free"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "A great term.", resp.Comment)
		assert.Equal(t, 2-i, resp.RemainingFree)
	}

	// Guests never touch the credit ledger or the report store.
	assert.Zero(t, ledger.consumed)
	assert.Zero(t, repo.reports)
}

func TestGenerateGuestLimitReached(t *testing.T) {
	router := newTestRouter(&fakeRepo{}, &fakeLedger{balance: 100}, &fakeGenerator{comment: "x"}, newGuestQuota(3))

	for i := 0; i < 3; i++ {
		w := doJSON(router, http.MethodPost, "/generate", "", generateBody)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(router, http.MethodPost, "/generate", "", generateBody)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp struct {
		Error          string `json:"error"`
		IsLimitReached bool   `json:"is_limit_reached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsLimitReached)
	assert.Contains(t, resp.Error, "Free limit reached")
}
