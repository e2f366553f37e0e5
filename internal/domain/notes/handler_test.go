package notes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/auth"
)

func doRequest(t *testing.T, h *Handler, actor emr.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerDraftLifecycle(t *testing.T) {
	svc, _, encs, _ := newTestService()
	h := NewHandler(svc)
	vet := actorWithRole(emr.RoleVeterinarian)
	encID := seedEncounter(encs)

	rec := doRequest(t, h, vet, http.MethodPost,
		"/api/v1/encounters/"+encID.String()+"/notes",
		`{"subjective":"limping on right hind leg"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var d Document
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doRequest(t, h, vet, http.MethodPost,
		"/api/v1/notes/"+d.ID.String()+"/finalize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status = %d, body %s", rec.Code, rec.Body.String())
	}

	// editing after sign-off is a conflict
	rec = doRequest(t, h, vet, http.MethodPut,
		"/api/v1/notes/"+d.ID.String(), `{"plan":"rewrite"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("update finalized status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, h, vet, http.MethodPost,
		"/api/v1/notes/"+d.ID.String()+"/addendum", `{"plan":"dose clarified"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("addendum status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerFinalizeRoleGate(t *testing.T) {
	svc, _, encs, _ := newTestService()
	h := NewHandler(svc)
	vet := actorWithRole(emr.RoleVeterinarian)
	tech := actorWithRole(emr.RoleTechnician)
	d := createDraft(t, svc, vet, seedEncounter(encs))

	rec := doRequest(t, h, tech, http.MethodPost,
		"/api/v1/notes/"+d.ID.String()+"/finalize", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("technician finalize status = %d, want 403", rec.Code)
	}
}

func TestHandlerGetUnknownNote(t *testing.T) {
	svc, _, _, _ := newTestService()
	h := NewHandler(svc)
	vet := actorWithRole(emr.RoleVeterinarian)

	rec := doRequest(t, h, vet, http.MethodGet,
		"/api/v1/notes/b0a7a387-1136-42d9-a0c1-999999999999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
