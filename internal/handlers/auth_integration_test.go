package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/handlers/testutil"
)

func TestAuthHandler_IssueRedeemSessionLogout(t *testing.T) {
	env := testutil.NewEnv(t)

	token := env.IssueLink("ada@example.com")
	messages := env.Outbox.Messages("ada@example.com")
	require.Len(t, messages, 1)
	require.True(t, strings.HasPrefix(messages[0].Link, testutil.BaseURL+"?token="))

	redeem := env.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": token}, "")
	require.Equal(t, http.StatusOK, redeem.Code, redeem.Body.String())

	var login testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, redeem).Data, &login)
	require.NotEmpty(t, login.SessionToken)
	require.Equal(t, "ada@example.com", login.User.Address)
	require.NotNil(t, login.User.LastLogin)

	cookie := env.SessionCookie(redeem)
	require.NotNil(t, cookie)
	require.Equal(t, login.SessionToken, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, "/", cookie.Path)

	me := env.Request(http.MethodGet, "/api/auth/me", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var identity auth.Identity
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &identity)
	require.Equal(t, login.User.ID, identity.UserID)
	require.Equal(t, "ada@example.com", identity.Address)

	req := env.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	session := env.Do(req)
	require.Equal(t, http.StatusOK, session.Code, session.Body.String())

	logout := env.Request(http.MethodPost, "/api/auth/logout", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, logout.Code)
	cleared := env.SessionCookie(logout)
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)

	after := env.Request(http.MethodGet, "/api/auth/me", nil, login.SessionToken)
	require.Equal(t, http.StatusUnauthorized, after.Code)
	require.Equal(t, "INVALID", testutil.DecodeResponse(t, after).Error.Code)
}

func TestAuthHandler_IssueIsGeneric(t *testing.T) {
	env := testutil.NewEnv(t)

	known := env.Login("known@example.com")
	require.NotEmpty(t, known.SessionToken)

	first := env.Request(http.MethodPost, "/api/auth/magic-link", map[string]string{"address": "known@example.com"}, "")
	second := env.Request(http.MethodPost, "/api/auth/magic-link", map[string]string{"address": "stranger@example.com"}, "")

	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusAccepted, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, auth.GenericIssueMessage, testutil.DecodeResponse(t, first).Message)
}

func TestAuthHandler_IssueRejectsMalformedAddress(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, body := range []any{
		map[string]string{"address": "not-an-address"},
		map[string]string{},
	} {
		w := env.Request(http.MethodPost, "/api/auth/magic-link", body, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code)
	}
	require.Empty(t, env.Outbox.Messages("not-an-address"))
}

func TestAuthHandler_RedeemErrors(t *testing.T) {
	env := testutil.NewEnv(t)

	t.Run("Unknown", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": "bm90LWEtcmVhbC10b2tlbg"}, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
	})

	t.Run("Missing", func(t *testing.T) {
		w := env.Request(http.MethodGet, "/api/auth/magic-link/redeem", nil, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
	})

	t.Run("Malformed", func(t *testing.T) {
		w := env.Request(http.MethodGet, "/api/auth/magic-link/redeem?token=%3Cscript%3E", nil, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": "<script>"}, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := testutil.DecodeResponse(t, w)
		require.Equal(t, "NOT_FOUND", resp.Error.Code)
		require.Equal(t, "NOT_FOUND", resp.Error.Message)
	})

	t.Run("AlreadyUsed", func(t *testing.T) {
		token := env.IssueLink("twice@example.com")
		first := env.Request(http.MethodGet, "/api/auth/magic-link/redeem?token="+token, nil, "")
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		require.NotNil(t, env.SessionCookie(first))

		second := env.Request(http.MethodGet, "/api/auth/magic-link/redeem?token="+token, nil, "")
		require.Equal(t, http.StatusConflict, second.Code)
		require.Equal(t, "ALREADY_USED", testutil.DecodeResponse(t, second).Error.Code)
		require.Nil(t, env.SessionCookie(second))
	})

	t.Run("Expired", func(t *testing.T) {
		token := env.IssueLink("late@example.com")
		env.Clock.Advance(auth.MagicLinkTTL + time.Second)

		w := env.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": token}, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "EXPIRED", testutil.DecodeResponse(t, w).Error.Code)
	})
}

func TestAuthHandler_ConcurrentRedeemHasOneWinner(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.IssueLink("race@example.com")

	const racers = 8
	codes := make([]int, racers)
	requests := make([]*http.Request, racers)
	for i := range requests {
		requests[i] = env.NewRequest(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": token})
	}

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := httptest.NewRecorder()
			env.Router.ServeHTTP(w, requests[i])
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			winners++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	require.Equal(t, 1, winners)
}

func TestAuthHandler_SessionResolution(t *testing.T) {
	env := testutil.NewEnv(t)
	ada := env.Login("ada@example.com")
	bob := env.Login("bob@example.com")

	decodeUser := func(t *testing.T, w *httptest.ResponseRecorder) string {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var identity auth.Identity
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &identity)
		return identity.UserID
	}

	t.Run("ExplicitQueryBeatsCookieAndHeader", func(t *testing.T) {
		req := env.NewRequest(http.MethodGet, "/api/auth/session?session_token="+ada.SessionToken, nil)
		req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: bob.SessionToken})
		req.Header.Set("Authorization", "Bearer "+bob.SessionToken)
		w := env.Do(req)
		require.Equal(t, ada.User.ID, decodeUser(t, w))
	})

	t.Run("CookieBeatsHeader", func(t *testing.T) {
		req := env.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: bob.SessionToken})
		req.Header.Set("Authorization", "Bearer "+ada.SessionToken)
		w := env.Do(req)
		require.Equal(t, bob.User.ID, decodeUser(t, w))
	})

	t.Run("ExplicitBodyField", func(t *testing.T) {
		req := env.NewRequest(http.MethodPost, "/api/auth/session/validate", map[string]string{"session_token": bob.SessionToken})
		req.Header.Set("Authorization", "Bearer "+ada.SessionToken)
		w := env.Do(req)
		require.Equal(t, bob.User.ID, decodeUser(t, w))
	})

	t.Run("ValidateWithoutBodyUsesHeader", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/auth/session/validate", nil, ada.SessionToken)
		require.Equal(t, ada.User.ID, decodeUser(t, w))
	})

	t.Run("Absent", func(t *testing.T) {
		w := env.Request(http.MethodGet, "/api/auth/session", nil, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "ABSENT", testutil.DecodeResponse(t, w).Error.Code)
	})

	t.Run("Invalid", func(t *testing.T) {
		w := env.Request(http.MethodGet, "/api/auth/session", nil, "c2Vzc2lvbi10aGF0LWRvZXMtbm90LWV4aXN0")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "INVALID", testutil.DecodeResponse(t, w).Error.Code)
	})
}

func TestAuthHandler_LogoutWithoutSession(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]bool
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
	require.False(t, payload["revoked"])
	require.NotNil(t, env.SessionCookie(w))

	again := env.Request(http.MethodPost, "/api/auth/logout", nil, "bm8tc3VjaC1zZXNzaW9u")
	require.Equal(t, http.StatusOK, again.Code)
}

func TestAuthHandler_SessionCookieCarriesAbsoluteTTL(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithSessionTTL(2*time.Hour, 0))

	token := env.IssueLink("ttl@example.com")
	w := env.Request(http.MethodPost, "/api/auth/magic-link/redeem", map[string]string{"token": token}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookie := env.SessionCookie(w)
	require.NotNil(t, cookie)
	require.Equal(t, int((2 * time.Hour).Seconds()), cookie.MaxAge)

	var login testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &login)

	env.Clock.Advance(2*time.Hour + time.Second)
	expired := env.Request(http.MethodGet, "/api/auth/me", nil, login.SessionToken)
	require.Equal(t, http.StatusUnauthorized, expired.Code)
	require.Equal(t, "INVALID", testutil.DecodeResponse(t, expired).Error.Code)
}

func TestAuthHandler_LogoutWithExplicitToken(t *testing.T) {
	env := testutil.NewEnv(t)
	ada := env.Login("ada@example.com")
	bob := env.Login("bob@example.com")

	revoked := func(t *testing.T, w *httptest.ResponseRecorder) bool {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var payload map[string]bool
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
		return payload["revoked"]
	}

	t.Run("BodyBeatsHeader", func(t *testing.T) {
		req := env.NewRequest(http.MethodPost, "/api/auth/logout", map[string]string{"session_token": ada.SessionToken})
		req.Header.Set("Authorization", "Bearer "+bob.SessionToken)
		require.True(t, revoked(t, env.Do(req)))

		gone := env.Request(http.MethodGet, "/api/auth/session", nil, ada.SessionToken)
		require.Equal(t, http.StatusUnauthorized, gone.Code)
		require.Equal(t, "INVALID", testutil.DecodeResponse(t, gone).Error.Code)

		kept := env.Request(http.MethodGet, "/api/auth/session", nil, bob.SessionToken)
		require.Equal(t, http.StatusOK, kept.Code)
	})

	t.Run("Query", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/auth/logout?session_token="+bob.SessionToken, nil, "")
		require.True(t, revoked(t, w))

		gone := env.Request(http.MethodGet, "/api/auth/session", nil, bob.SessionToken)
		require.Equal(t, http.StatusUnauthorized, gone.Code)
	})

	t.Run("UnreadableBodyStillSucceeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := env.Do(req)
		require.False(t, revoked(t, w))
		require.NotNil(t, env.SessionCookie(w))
	})
}
