// Package requestgate implements C8 RequestGate: the HTTP middleware that
// extracts and verifies the bearer token, checks IP and user bans, and
// populates the request identity before any handler runs.
package requestgate

import (
	"context"
	"net/http"
	"strings"

	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/banregistry"
	"github.com/watup-lk/identity-service/internal/middleware"
	"github.com/watup-lk/identity-service/internal/tokencodec"
)

// openAPIPath is passed straight through unauthenticated.
const openAPIPath = "/openapi.json"

const cookieName = "kh-auth"

type identityKey struct{}

// Identity is the request-scoped principal RequestGate attaches to the
// context. user_id=-1 with scope={default} means anonymous.
type Identity struct {
	UserID int64
	Token  *tokencodec.AuthToken
	Scope  map[string]bool
	Banned bool

	decode func(context.Context, string) (*tokencodec.AuthToken, error)
	ctx    context.Context
}

func anonymous() Identity {
	return Identity{UserID: -1, Scope: map[string]bool{"default": true}}
}

// Authenticated returns true iff the identity is not banned and its token
// still verifies. The re-verification goes through the codec's Decode, so
// it may be answered from the 30s decode cache; a revocation made within
// that window is not seen here.
func (id Identity) Authenticated() bool {
	if id.Banned || id.Token == nil {
		return false
	}
	if id.decode == nil {
		return true
	}
	_, err := id.decode(id.ctx, id.Token.TokenString)
	return err == nil
}

// VerifyScope reports whether the identity is authenticated and holds scope.
func (id Identity) VerifyScope(scope string) bool {
	return id.Authenticated() && id.Scope[scope]
}

// FromContext retrieves the Identity RequestGate attached to ctx.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return anonymous()
}

type codec interface {
	Decode(ctx context.Context, token string) (*tokencodec.AuthToken, error)
}

// Gate is the middleware itself.
type Gate struct {
	codec codec
	bans  *banregistry.Registry
}

func New(codec codec, bans *banregistry.Registry) *Gate {
	return &Gate{codec: codec, bans: bans}
}

// Middleware wraps next, attaching an Identity to every request's context
// per §4.7's ordering: IP ban check -> token decode -> user ban check ->
// scope (left to the handler via VerifyScope).
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == openAPIPath {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientAddr(r)
		if clientIP == "" {
			writeError(w, autherr.New(autherr.KindBadRequest, "no client address"))
			return
		}

		if ban, err := g.bans.IPBan(r.Context(), clientIP); err == nil && ban != nil {
			middleware.BanRejections.WithLabelValues("ip").Inc()
			writeError(w, autherr.New(autherr.KindForbidden, "ip is banned"))
			return
		}

		token := extractToken(r)
		id := anonymous()
		if token != "" {
			at, err := g.codec.Decode(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			ban, err := g.bans.UserBan(r.Context(), at.UserID)
			if err == nil && ban != nil {
				if ban.BanType == "ip" {
					_ = g.bans.RecordIPBan(r.Context(), clientIP, ban.BanID)
					middleware.BanRejections.WithLabelValues("ip").Inc()
					writeError(w, autherr.New(autherr.KindForbidden, "ip is banned"))
					return
				}
				middleware.BanRejections.WithLabelValues("user").Inc()
				id = Identity{UserID: at.UserID, Token: at, Banned: true, Scope: map[string]bool{"default": true}}
			} else {
				id = Identity{UserID: at.UserID, Token: at, Scope: scopeSet(at), decode: g.codec.Decode, ctx: r.Context()}
			}
		}

		r = r.WithContext(context.WithValue(r.Context(), identityKey{}, id))
		next.ServeHTTP(w, r)
	})
}

func scopeSet(at *tokencodec.AuthToken) map[string]bool {
	set := make(map[string]bool)
	scopes := at.Scope()
	if len(scopes) == 0 {
		set["default"] = true
		return set
	}
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

// extractToken reads the Authorization header or the kh-auth cookie,
// stripping any "Bearer "/scheme prefix.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if idx := strings.IndexByte(auth, ' '); idx >= 0 {
			return auth[idx+1:]
		}
		return auth
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// clientAddr prefers cf-connecting-ip, then x-forwarded-for, then the
// connection's remote address.
func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("cf-connecting-ip"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("x-forwarded-for"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}

func writeError(w http.ResponseWriter, err error) {
	kind := autherr.KindOf(err)
	http.Error(w, err.Error(), kind.Status())
}
