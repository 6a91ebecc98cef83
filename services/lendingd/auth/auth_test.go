package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "rwalend"
	testUser   = "0x00000000000000000000000000000000000000a1"
)

func newVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{HMACSecret: testSecret, Issuer: testIssuer, Now: func() time.Time { return now }})
	require.NoError(t, err)
	return v
}

func TestVerifyAcceptsIssuedToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := Issue(testSecret, testIssuer, testUser, []Role{RoleKeeper, "janitor"}, time.Hour, now)
	require.NoError(t, err)

	claims, err := newVerifier(t, now).Verify(token)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testUser), claims.Account)
	require.Equal(t, []Role{RoleKeeper}, claims.Roles)
	require.True(t, claims.HasRole(RoleAdmin, RoleKeeper))
	require.False(t, claims.HasRole(RoleAdmin))
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(t, now)

	expired, err := Issue(testSecret, testIssuer, testUser, nil, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.Error(t, err)

	wrongIssuer, err := Issue(testSecret, "other", testUser, nil, time.Hour, now)
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	require.Error(t, err)

	wrongKey, err := Issue("fedcba9876543210fedcba9876543210", testIssuer, testUser, nil, time.Hour, now)
	require.NoError(t, err)
	_, err = v.Verify(wrongKey)
	require.Error(t, err)

	notAnAccount, err := Issue(testSecret, testIssuer, "alice", nil, time.Hour, now)
	require.NoError(t, err)
	_, err = v.Verify(notAnAccount)
	require.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": testUser, "iss": testIssuer}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(noExpiry)
	require.Error(t, err)
}

func TestMiddlewareEnforcesRoles(t *testing.T) {
	now := time.Now()
	v := newVerifier(t, now)
	handler := v.Authenticate(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := FromContext(r.Context())
		require.NoError(t, err)
		require.Equal(t, testUser, claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		name   string
		roles  []Role
		header bool
		want   int
	}{
		{name: "missing token", want: http.StatusUnauthorized},
		{name: "no role", header: true, want: http.StatusForbidden},
		{name: "admin", header: true, roles: []Role{RoleAdmin}, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header {
				token, err := Issue(testSecret, testIssuer, testUser, tc.roles, time.Hour, now)
				require.NoError(t, err)
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("bearer abc "))
	require.Equal(t, "", extractBearer("Basic abc"))
	require.Equal(t, "", extractBearer(""))
}
