package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"

	"github.com/Codewithjainam7/EduHubPro/internal/config"
	"github.com/Codewithjainam7/EduHubPro/internal/store"
)

// ErrGoogleSignInDisabled is returned when no OAuth client id is
// configured. A credential is never accepted unverified: decode-only
// trust-on-receipt is a known gap of the old client and is not preserved.
var ErrGoogleSignInDisabled = errors.New("auth: google sign-in is not configured")

// VerifyGoogleCredential validates a Google Sign-In credential (signature,
// expiry, audience) and extracts the display identity from its claims.
func VerifyGoogleCredential(ctx context.Context, credential string) (store.Identity, error) {
	clientID := config.AppConfig.GoogleClientID
	if clientID == "" {
		return store.Identity{}, ErrGoogleSignInDisabled
	}

	payload, err := idtoken.Validate(ctx, credential, clientID)
	if err != nil {
		return store.Identity{}, fmt.Errorf("auth: credential validation failed: %w", err)
	}

	claim := func(key string) string {
		v, _ := payload.Claims[key].(string)
		return v
	}

	id := store.Identity{
		DisplayName: claim("name"),
		Email:       claim("email"),
		PictureURL:  claim("picture"),
		SubjectID:   payload.Subject,
	}
	if id.SubjectID == "" {
		return store.Identity{}, fmt.Errorf("auth: credential has no subject")
	}
	if id.DisplayName == "" {
		id.DisplayName = id.Email
	}
	return id, nil
}
