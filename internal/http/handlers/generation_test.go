package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/catalog"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/testutil"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	httpx "github.com/zoonk/zoonk-sub009/internal/http"
	"github.com/zoonk/zoonk-sub009/internal/http/handlers"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/services"
	"github.com/zoonk/zoonk-sub009/internal/stream"
)

func newTestRouter(t *testing.T) (*gin.Engine, generation.RunRepo, *stream.Hub, *types.Course) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(t)
	log := testutil.Logger(t)
	runs := generation.NewRunRepo(db, log)
	svc := services.NewGenerationService(
		runs,
		catalog.NewCourseRepo(db, log),
		catalog.NewChapterRepo(db, log),
		catalog.NewLessonRepo(db, log),
		catalog.NewActivityRepo(db, log),
		services.NewEnvEntitlements(log),
		log,
	)
	hub := stream.NewHub(log, 64, time.Minute)
	router := httpx.NewRouter(httpx.RouterConfig{
		GenerationHandler: handlers.NewGenerationHandler(svc, hub),
		HealthHandler:     handlers.NewHealthHandler(),
		Log:               log,
	})
	course := testutil.SeedCourse(t, context.Background(), db, "API Course")
	return router, runs, hub, course
}

func trigger(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generations", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTriggerEndpointStatusMapping(t *testing.T) {
	router, _, _, course := newTestRouter(t)

	w := trigger(t, router, map[string]any{"kind": "course", "subjectId": course.ID})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.RunID)

	// Same subject again while the run is live: conflict.
	w = trigger(t, router, map[string]any{"kind": "course", "subjectId": course.ID})
	require.Equal(t, http.StatusConflict, w.Code)

	w = trigger(t, router, map[string]any{"kind": "podcast", "subjectId": course.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = trigger(t, router, map[string]any{"kind": "course", "subjectId": 404_404})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunEndpoint(t *testing.T) {
	router, _, _, course := newTestRouter(t)

	w := trigger(t, router, map[string]any{"kind": "chapter", "subjectId": seedChapterID(t, course.ID)})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))

	req := httptest.NewRequest(http.MethodGet, "/api/generations/"+accepted.RunID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run types.GenerationRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, types.RunPending, body.Run.Status)

	// Unknown and malformed ids.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/generations/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/generations/00000000-0000-4000-8000-000000000000", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEndpointReplaysTerminalRun(t *testing.T) {
	router, runs, hub, course := newTestRouter(t)
	ctx := context.Background()

	run, err := runs.Create(dbctx.Context{Ctx: ctx}, &types.GenerationRun{
		Kind:      types.KindCourse,
		SubjectID: course.ID + 1_000,
	})
	require.NoError(t, err)
	_, err = runs.Advance(dbctx.Context{Ctx: ctx}, run.ID, "finalize_course", types.RunCompleted)
	require.NoError(t, err)

	// The run finished without the hub ever seeing it (process restart):
	// the endpoint must still deliver a terminal event and end the stream.
	req := httptest.NewRequest(http.MethodGet, "/api/generations/"+run.ID.String()+"/stream?startIndex=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	require.Contains(t, rec.Body.String(), `"status":"completed"`)
	require.True(t, hub.Closed(run.ID))
}

func TestStreamEndpointReportsTaxonomyReasonForFailedRun(t *testing.T) {
	router, runs, hub, course := newTestRouter(t)
	ctx := context.Background()

	run, err := runs.Create(dbctx.Context{Ctx: ctx}, &types.GenerationRun{
		Kind:      types.KindCourse,
		SubjectID: course.ID + 2_000,
	})
	require.NoError(t, err)
	_, err = runs.UpdateFieldsUnlessTerminal(dbctx.Context{Ctx: ctx}, run.ID, map[string]interface{}{
		"error":      "step chapter_generate_outline failed fatally: model call failed",
		"error_kind": "ai_generation_failed",
	})
	require.NoError(t, err)
	_, err = runs.Advance(dbctx.Context{Ctx: ctx}, run.ID, "chapter_generate_outline", types.RunFailed)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/generations/"+run.ID.String()+"/stream?startIndex=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"error"`)
	// The reason is the stable taxonomy value, not the raw error message.
	require.Contains(t, rec.Body.String(), `"reason":"ai_generation_failed"`)
	require.NotContains(t, rec.Body.String(), "model call failed")
	require.True(t, hub.Closed(run.ID))
}

func seedChapterID(t *testing.T, courseID int64) int64 {
	t.Helper()
	return testutil.SeedChapter(t, context.Background(), testutil.DB(t), courseID, 1).ID
}
