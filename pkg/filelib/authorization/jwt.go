// Package authorization gates rendering on the JWT carried by the request
// context.
//
// The token is put into the context by jwtauth.Verifier. The plugin only
// inspects what the verifier found; it never parses headers itself.
package authorization

import (
	"context"
	"fmt"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
)

// WildcardProfile in the profile claim grants access to every profile.
const WildcardProfile = "*"

// JWT denies renders whose context carries no valid token.
type JWT struct {
	plugin.Base

	profileClaim string
}

// Option configures a JWT plugin
type Option func(*JWT)

// WithProfileClaim additionally requires the named claim to list the
// profile of the rendered file. The claim may be a string or an array of
// strings.
func WithProfileClaim(name string) Option {
	return func(j *JWT) {
		j.profileClaim = name
	}
}

// New creates the authorization plugin.
func New(opts ...Option) *JWT {
	j := &JWT{}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Subscriptions implements filelib.Subscriber
func (j *JWT) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicRendererBeforeRender, Handler: j.onBeforeRender},
	}
}

func (j *JWT) onBeforeRender(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.RenderEvent)
	if !ok || e.File == nil || !j.BelongsToProfile(e.File.Profile) {
		return nil
	}

	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", filelib.ErrAccessDenied, err)
	}
	if token == nil {
		return fmt.Errorf("%w: no token", filelib.ErrAccessDenied)
	}

	if j.profileClaim == "" {
		return nil
	}
	if !claimAllows(claims[j.profileClaim], e.File.Profile) {
		j.Logger().DebugContext(ctx, "render denied by profile claim",
			"file_id", e.File.ID, "profile", e.File.Profile, "claim", j.profileClaim)
		return fmt.Errorf("%w: profile %s not granted", filelib.ErrAccessDenied, e.File.Profile)
	}
	return nil
}

func claimAllows(claim interface{}, profile string) bool {
	switch v := claim.(type) {
	case string:
		return v == profile || v == WildcardProfile
	case []string:
		for _, s := range v {
			if s == profile || s == WildcardProfile {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && (s == profile || s == WildcardProfile) {
				return true
			}
		}
	}
	return false
}

var _ filelib.Plugin = (*JWT)(nil)
