// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loginCols = []string{"id", "dietitian_id", "password_hash"}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	return hash
}

func newClientAuthHandler(t *testing.T) (*ClientAuthHandler, sqlmock.Sqlmock, *fakeSessions) {
	db, mock := testutil.NewMockDB(t)
	sessions := &fakeSessions{}
	return NewClientAuthHandler(db, testutil.GetTestConfig(), sessions), mock, sessions
}

func TestClientLogin_Success(t *testing.T) {
	h, mock, sessions := newClientAuthHandler(t)
	mock.ExpectQuery(`SELECT id, dietitian_id, password_hash FROM clients WHERE LOWER\(email\) = \$1`).
		WithArgs("alex@example.com").
		WillReturnRows(sqlmock.NewRows(loginCols).AddRow(testutil.ClientID, testutil.DietitianID, mustHash(t, "s3cret-pass")))
	mock.ExpectExec("UPDATE clients SET last_login_at").
		WithArgs(sqlmock.AnyArg(), testutil.ClientID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM clients c JOIN dietitians d").
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(profileRows())

	req := testutil.MakeRequest("POST", "/api/client-auth/login",
		models.ClientLoginRequest{Email: " Alex@Example.com", Password: "s3cret-pass"}, nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.ClientLoginResponse
	testutil.AssertJSON(t, w, &resp)
	assert.Equal(t, "client-token", resp.Token)
	assert.Equal(t, "Dana Smith", resp.Client.DietitianName)
	assert.Equal(t, []string{"peanuts"}, resp.Client.Allergies)
	assert.Equal(t, []string{testutil.ClientID}, sessions.started)

	cookie := findCookie(w, auth.ClientCookieName)
	require.NotNil(t, cookie)
	assert.Equal(t, "client-token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestClientLogin_Rejections(t *testing.T) {
	t.Run("unknown email", func(t *testing.T) {
		h, mock, sessions := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT id, dietitian_id, password_hash").
			WillReturnRows(sqlmock.NewRows(loginCols))

		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", `{"email":"nobody@example.com","password":"whatever1"}`, nil))

		testutil.AssertError(t, w, http.StatusUnauthorized, "Invalid email or password")
		assert.Empty(t, sessions.started)
	})

	t.Run("wrong password", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT id, dietitian_id, password_hash").
			WillReturnRows(sqlmock.NewRows(loginCols).AddRow(testutil.ClientID, testutil.DietitianID, mustHash(t, "s3cret-pass")))

		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", `{"email":"alex@example.com","password":"wrong-pass"}`, nil))

		testutil.AssertError(t, w, http.StatusUnauthorized, "Invalid email or password")
	})

	t.Run("invite not accepted yet", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT id, dietitian_id, password_hash").
			WillReturnRows(sqlmock.NewRows(loginCols).AddRow(testutil.ClientID, testutil.DietitianID, nil))

		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", `{"email":"alex@example.com","password":"anything1"}`, nil))

		testutil.AssertStatus(t, w, http.StatusUnauthorized)
	})

	t.Run("pending invite elsewhere is not a candidate", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery(`status <> 'archived' AND password_hash IS NOT NULL LIMIT 2`).
			WithArgs("alex@example.com").
			WillReturnRows(sqlmock.NewRows(loginCols).AddRow(testutil.ClientID, testutil.DietitianID, mustHash(t, "s3cret-pass")))
		mock.ExpectExec("UPDATE clients SET last_login_at").
			WithArgs(sqlmock.AnyArg(), testutil.ClientID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM clients c JOIN dietitians d").WillReturnRows(profileRows())

		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", `{"email":"alex@example.com","password":"s3cret-pass"}`, nil))

		testutil.AssertStatus(t, w, http.StatusOK)
	})

	t.Run("email shared across practices", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT id, dietitian_id, password_hash").
			WillReturnRows(sqlmock.NewRows(loginCols).
				AddRow(testutil.ClientID, testutil.DietitianID, "x").
				AddRow(testutil.ResourceID, testutil.OtherDietitianID, "y"))

		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", `{"email":"alex@example.com","password":"anything1"}`, nil))

		testutil.AssertError(t, w, http.StatusBadRequest, "dietitian_id is required")
	})

	t.Run("dietitian narrows the match", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery(`AND dietitian_id = \$2 LIMIT 2`).
			WithArgs("alex@example.com", testutil.OtherDietitianID).
			WillReturnRows(sqlmock.NewRows(loginCols))

		body := models.ClientLoginRequest{Email: "alex@example.com", Password: "anything1", DietitianID: testutil.OtherDietitianID}
		w := httptest.NewRecorder()
		h.Login(w, testutil.MakeRequest("POST", "/", body, nil))

		testutil.AssertStatus(t, w, http.StatusUnauthorized)
	})

	bad := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing password", `{"email":"alex@example.com"}`},
		{"bad dietitian id", `{"email":"alex@example.com","password":"x","dietitian_id":"nope"}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newClientAuthHandler(t)
			w := httptest.NewRecorder()
			h.Login(w, testutil.MakeRequest("POST", "/", tt.body, nil))
			testutil.AssertStatus(t, w, http.StatusBadRequest)
		})
	}
}

func TestAcceptInvite(t *testing.T) {
	t.Run("sets password and logs in", func(t *testing.T) {
		h, mock, sessions := newClientAuthHandler(t)
		mock.ExpectQuery("UPDATE clients SET password_hash").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), auth.HashToken("invite-token")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "dietitian_id"}).AddRow(testutil.ClientID, testutil.DietitianID))
		mock.ExpectQuery("FROM clients c JOIN dietitians d").WillReturnRows(profileRows())

		w := httptest.NewRecorder()
		h.AcceptInvite(w, testutil.MakeRequest("POST", "/", models.AcceptInviteRequest{Token: "invite-token", Password: "new-password"}, nil))

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, []string{testutil.ClientID}, sessions.started)
		assert.NotNil(t, findCookie(w, auth.ClientCookieName))
	})

	t.Run("expired or used", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("UPDATE clients SET password_hash").
			WillReturnRows(sqlmock.NewRows([]string{"id", "dietitian_id"}))

		w := httptest.NewRecorder()
		h.AcceptInvite(w, testutil.MakeRequest("POST", "/", models.AcceptInviteRequest{Token: "old", Password: "new-password"}, nil))

		testutil.AssertError(t, w, http.StatusUnauthorized, "Invalid or expired invite")
	})

	t.Run("weak password", func(t *testing.T) {
		h, _, _ := newClientAuthHandler(t)
		w := httptest.NewRecorder()
		h.AcceptInvite(w, testutil.MakeRequest("POST", "/", models.AcceptInviteRequest{Token: "t", Password: "short"}, nil))
		testutil.AssertError(t, w, http.StatusBadRequest, "at least 8")
	})

	t.Run("missing token", func(t *testing.T) {
		h, _, _ := newClientAuthHandler(t)
		w := httptest.NewRecorder()
		h.AcceptInvite(w, testutil.MakeRequest("POST", "/", `{"password":"new-password"}`, nil))
		testutil.AssertError(t, w, http.StatusBadRequest, "token is required")
	})
}

func TestClientLogout(t *testing.T) {
	h, _, sessions := newClientAuthHandler(t)
	w := httptest.NewRecorder()
	h.Logout(w, portalRequest("POST", "/api/client-auth/logout", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Equal(t, []string{testutil.SessionID}, sessions.revoked)
	cookie := findCookie(w, auth.ClientCookieName)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestClientMe(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("FROM clients c JOIN dietitians d").
			WithArgs(testutil.ClientID, testutil.DietitianID).
			WillReturnRows(profileRows())

		w := httptest.NewRecorder()
		h.Me(w, portalRequest("GET", "/api/client-auth/me", nil))

		testutil.AssertStatus(t, w, http.StatusOK)
		var p models.ClientProfile
		testutil.AssertJSON(t, w, &p)
		assert.Equal(t, "Smith Nutrition", p.PracticeName)
		assert.Equal(t, []string{}, p.DietaryRestrictions)
	})

	t.Run("gone", func(t *testing.T) {
		h, mock, _ := newClientAuthHandler(t)
		mock.ExpectQuery("FROM clients c JOIN dietitians d").WillReturnRows(sqlmock.NewRows(profileCols))

		w := httptest.NewRecorder()
		h.Me(w, portalRequest("GET", "/api/client-auth/me", nil))
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}

func TestClientChangePassword(t *testing.T) {
	t.Run("keeps current session", func(t *testing.T) {
		h, mock, sessions := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT password_hash FROM clients").
			WithArgs(testutil.ClientID, testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(mustHash(t, "old-password")))
		mock.ExpectExec("UPDATE clients SET password_hash").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testutil.ClientID, testutil.DietitianID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := models.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"}
		w := httptest.NewRecorder()
		h.ChangePassword(w, portalRequest("POST", "/api/client-auth/change-password", body))

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, []string{testutil.ClientID}, sessions.revokedClient)
		assert.Equal(t, testutil.SessionID, sessions.kept)
	})

	t.Run("wrong current password", func(t *testing.T) {
		h, mock, sessions := newClientAuthHandler(t)
		mock.ExpectQuery("SELECT password_hash FROM clients").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(mustHash(t, "old-password")))

		body := models.ChangePasswordRequest{CurrentPassword: "guess-guess", NewPassword: "new-password"}
		w := httptest.NewRecorder()
		h.ChangePassword(w, portalRequest("POST", "/api/client-auth/change-password", body))

		testutil.AssertError(t, w, http.StatusUnauthorized, "Current password is incorrect")
		assert.Empty(t, sessions.revokedClient)
	})

	t.Run("session store failure", func(t *testing.T) {
		h, mock, sessions := newClientAuthHandler(t)
		sessions.err = errors.New("db down")
		mock.ExpectQuery("SELECT password_hash FROM clients").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(mustHash(t, "old-password")))
		mock.ExpectExec("UPDATE clients SET password_hash").WillReturnResult(sqlmock.NewResult(0, 1))

		body := models.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"}
		w := httptest.NewRecorder()
		h.ChangePassword(w, portalRequest("POST", "/api/client-auth/change-password", body))

		testutil.AssertStatus(t, w, http.StatusInternalServerError)
	})
}
