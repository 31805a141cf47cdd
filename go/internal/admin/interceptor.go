package admin

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/showdown/go/internal/auth"
)

type claimsKey struct{}

// NewAuthInterceptor rejects calls without a valid bearer token and stores the caller's
// claims for the handlers. Without the interceptor every caller is trusted.
func NewAuthInterceptor(svc *auth.Service) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}
			claims, err := svc.ValidateToken(auth.BearerToken(req.Header().Get("Authorization")))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(context.WithValue(ctx, claimsKey{}, claims), req)
		}
	}
}

// NewTokenInterceptor attaches a bearer token to outgoing client calls.
func NewTokenInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient && token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

func callerID(ctx context.Context) string {
	if claims := claimsFrom(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

func requireAdmin(ctx context.Context) error {
	if claims := claimsFrom(ctx); claims != nil && !claims.Admin {
		return connect.NewError(connect.CodePermissionDenied, errors.New("admin token required"))
	}
	return nil
}

// requireSelf lets users act only on their own behalf unless they are admins.
func requireSelf(ctx context.Context, userID string) error {
	claims := claimsFrom(ctx)
	if claims == nil || claims.Admin || claims.Subject == userID {
		return nil
	}
	return connect.NewError(connect.CodePermissionDenied, errors.New("cannot act for another user"))
}
