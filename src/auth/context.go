package auth

import "context"

type contextKey string

const PrincipalKey contextKey = "principal"

// Principal identifies the authenticated API caller.
type Principal struct {
	Name string
}

func GetPrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(PrincipalKey).(*Principal)
	return principal, ok
}
