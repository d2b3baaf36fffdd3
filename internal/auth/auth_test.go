package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/serialplot/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := testlog.Start(t)
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			log.Debug().Str("stored", tc.stored).Str("input", tc.input).AnErr("result", err).Msg("static token")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=fromquery", nil)
	if got := RequestToken(req); got != "fromquery" {
		t.Fatalf("query token=%q", got)
	}
	req.Header = Header("fromheader")
	if got := RequestToken(req); got != "fromheader" {
		t.Fatalf("header token=%q", got)
	}
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	if got := RequestToken(req); got != "fromquery" {
		t.Fatalf("non-bearer header should fall back to query, got %q", got)
	}
	if Header("") != nil {
		t.Fatalf("empty token should produce no header")
	}
}

func TestRequire(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	calls := 0
	validator := FuncValidator(func(token string) error {
		calls++
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	r := gin.New()
	r.GET("/ws", Require(validator), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/open", Require(nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		path string
		want int
	}{
		{"/ws", http.StatusUnauthorized},
		{"/ws?token=bad", http.StatusUnauthorized},
		{"/ws?token=ok", http.StatusNoContent},
		{"/open", http.StatusNoContent},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.path, rec.Code, tc.want)
		}
	}
	if calls != 3 {
		t.Fatalf("validator calls=%d", calls)
	}
}
