package mcauth

import "fmt"

const (
	userClaimsGroup = "xui"
	userHashClaim   = "uhs"
	xuidClaim       = "xid"
	gamertagClaim   = "gtg"
)

// UserHash extracts DisplayClaims["xui"][0]["uhs"].
func (t *IdentityToken) UserHash() (string, error) {
	entry, err := t.userClaims()
	if err != nil {
		return "", err
	}
	hash, ok := entry[userHashClaim]
	if !ok {
		return "", &MalformedClaimsError{Path: claimPath(userHashClaim), Reason: "claim missing"}
	}
	if hash == "" {
		return "", &MalformedClaimsError{Path: claimPath(userHashClaim), Reason: "claim empty"}
	}
	return hash, nil
}

// XUID returns the Xbox user id claim, if the token carries one. Only XSTS
// tokens issued for some relying parties include it.
func (t *IdentityToken) XUID() string {
	entry, err := t.userClaims()
	if err != nil {
		return ""
	}
	return entry[xuidClaim]
}

func (t *IdentityToken) Gamertag() string {
	entry, err := t.userClaims()
	if err != nil {
		return ""
	}
	return entry[gamertagClaim]
}

func (t *IdentityToken) userClaims() (map[string]string, error) {
	if t == nil || t.DisplayClaims == nil {
		return nil, &MalformedClaimsError{Path: "DisplayClaims", Reason: "no display claims"}
	}
	group, ok := t.DisplayClaims[userClaimsGroup]
	if !ok {
		return nil, &MalformedClaimsError{Path: "DisplayClaims." + userClaimsGroup, Reason: "claim group missing"}
	}
	if len(group) == 0 || group[0] == nil {
		return nil, &MalformedClaimsError{Path: "DisplayClaims." + userClaimsGroup + "[0]", Reason: "claim group empty"}
	}
	return group[0], nil
}

func claimPath(key string) string {
	return fmt.Sprintf("DisplayClaims.%s[0].%s", userClaimsGroup, key)
}
