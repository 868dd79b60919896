// Package middleware provides the HTTP middleware stack: caller identity,
// admin JWT enforcement, request logging, and CORS.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luaxhealth/clinic-scheduler/internal/scheduling"
)

type contextKey string

const (
	callerKey      contextKey = "caller"
	adminClaimsKey contextKey = "adminClaims"
)

// PatientIDHeader carries the authenticated patient identity set by the
// portal's session layer.
const PatientIDHeader = "X-Patient-ID"

// CallerIdentity resolves the request's caller. A valid admin bearer token
// yields an admin caller; otherwise the patient header yields a patient
// caller. Requests with neither proceed with an anonymous caller, and each
// handler decides what that caller may do.
func CallerIdentity(adminSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if claims, ok := parseAdminToken(r, adminSecret); ok {
				ctx = context.WithValue(ctx, adminClaimsKey, claims)
				ctx = context.WithValue(ctx, callerKey, scheduling.AdminCaller())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if patientID := strings.TrimSpace(r.Header.Get(PatientIDHeader)); patientID != "" {
				ctx = context.WithValue(ctx, callerKey, scheduling.PatientCaller(patientID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose caller is not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok || !caller.Admin {
			http.Error(w, "admin access required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCaller rejects requests with no identity at all.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFromContext(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerFromContext returns the resolved caller if present.
func CallerFromContext(ctx context.Context) (scheduling.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(scheduling.Caller)
	return caller, ok
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// WithCaller injects a caller directly, for handler tests.
func WithCaller(ctx context.Context, caller scheduling.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func parseAdminToken(r *http.Request, secret string) (jwt.RegisteredClaims, bool) {
	if secret == "" {
		return jwt.RegisteredClaims{}, false
	}
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return jwt.RegisteredClaims{}, false
	}
	tokenString := strings.TrimPrefix(auth, "Bearer ")
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return jwt.RegisteredClaims{}, false
	}
	return claims, true
}
