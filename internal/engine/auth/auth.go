package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
)

// PermissionAccessContent guards every decision support and investigation resource.
const PermissionAccessContent = "access content"

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject     string
	Permissions []string
}

func (p Principal) HasPermission(perm string) bool {
	return slices.Contains(p.Permissions, perm)
}

// Require returns a ForbiddenError unless p holds perm.
func Require(p Principal, perm string) error {
	if !p.HasPermission(perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// HashKey returns the hex sha256 of an API key as stored in config.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MatchKey compares a presented API key against a stored hash in constant time.
func MatchKey(key, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(key)), []byte(hash)) == 1
}
