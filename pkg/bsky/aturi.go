package bsky

import (
	"fmt"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// FeedOwner returns the DID in the authority segment of a feed AT-URI
func FeedOwner(feedURI string) (string, error) {
	parsed, err := syntax.ParseATURI(feedURI)
	if err != nil {
		return "", fmt.Errorf("invalid feed uri %q: %w", feedURI, err)
	}

	did, err := parsed.Authority().AsDID()
	if err != nil {
		return "", fmt.Errorf("feed uri %q is not owned by a did: %w", feedURI, err)
	}
	return did.String(), nil
}
