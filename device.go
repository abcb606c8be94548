package mcauth

import "context"

// DeviceAuthorizer runs the OAuth2 device-code grant against the identity
// provider.
type DeviceAuthorizer interface {
	RequestCode(ctx context.Context, clientID, scope string) (*DeviceCodeGrant, error)
	WaitForLogin(ctx context.Context, clientID, scope string, grant *DeviceCodeGrant) (*TokenSet, error)
}

// XboxAuthenticator exchanges the OAuth access token for an Xbox Live user
// token, and that token for a security token scoped to the game service.
type XboxAuthenticator interface {
	LoginWithAccessToken(ctx context.Context, tokens *TokenSet) (*IdentityToken, error)
	AuthorizeForService(ctx context.Context, identity *IdentityToken) (*IdentityToken, error)
}

// ServiceAuthenticator trades a security token for the game-services
// credential.
type ServiceAuthenticator interface {
	LoginWithXbox(ctx context.Context, security, identity *IdentityToken) (*ServiceCredential, error)
}
