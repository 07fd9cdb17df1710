package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidID(t *testing.T) {
	valid := []string{"player-7", "act_9f2b1c", "biz_laundromat", "a1"}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "A", "-leading", "has space", strings.Repeat("x", 70), "semi;colon"}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestIsValidOwnerType(t *testing.T) {
	for _, ot := range []string{"player", "crew", "business", "territory", "enterprise", "PLAYER"} {
		if !IsValidOwnerType(ot) {
			t.Errorf("expected %q to be a valid owner type", ot)
		}
	}
	if IsValidOwnerType("spaceship") {
		t.Error("expected spaceship to be invalid")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("unexpected sanitized string: %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation, got %q", got)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("actorId", ""),
		ValidOwnerType("ownerType", "spaceship"),
		InRange("baseRate", 150, 0, 100),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if !strings.Contains(errs.Error(), "actorId") {
		t.Errorf("expected first error to mention actorId, got %q", errs.Error())
	}
}

func TestValidatePassesCleanInput(t *testing.T) {
	errs := Validate(
		Required("actorId", "player-7"),
		ValidID("actorId", "player-7"),
		ValidOwnerType("ownerType", "business"),
		InRange("baseRate", 50, 0, 100),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/actions/:id", IDParamMiddleware("id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/actions/act_ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid ID, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/actions/NOT%3BVALID", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid ID, got %d", w.Code)
	}
}
