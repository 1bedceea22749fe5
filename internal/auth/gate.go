package auth

import (
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/observability"
)

const (
	decisionAllow    = "allow"
	decisionRedirect = "redirect"
	decisionBlocked  = "blocked"
)

// GateOptions is the static configuration of the access gate.
type GateOptions struct {
	Policy     AccessPolicy
	CookieName string
	// LandingPath receives every denied request, whether unauthenticated or forbidden.
	LandingPath string
	// InternalAPIPrefix marks endpoints that must be called programmatically from the site.
	InternalAPIPrefix string
	// PublicAPIPrefixes are internal endpoints exempt from the same-origin check.
	PublicAPIPrefixes []string
	// TrustedOrigins are accepted in Origin/Referer besides the serving origin.
	TrustedOrigins []string
	// BlockedPrefixes answer 404 regardless of credentials.
	BlockedPrefixes []string
	// BlockedExemptions are exact paths carved out of BlockedPrefixes.
	BlockedExemptions []string
}

// Gate runs before every route handler. It attaches hardening headers, applies the
// same-origin heuristic to internal endpoints, and enforces the role policy.
//
// The same-origin check only deters casual direct navigation: Origin and Referer can
// be forged by non-browser clients, so it is never a substitute for the session check.
type Gate struct {
	opts      GateOptions
	trusted   map[string]struct{}
	validator *SessionValidator
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewGate constructs the gate.
func NewGate(opts GateOptions, validator *SessionValidator, logger *zap.Logger, metrics *observability.Metrics) *Gate {
	if opts.LandingPath == "" {
		opts.LandingPath = "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	trusted := make(map[string]struct{}, len(opts.TrustedOrigins))
	for _, origin := range opts.TrustedOrigins {
		if normalized, ok := originOf(origin); ok {
			trusted[normalized] = struct{}{}
		}
	}
	return &Gate{opts: opts, trusted: trusted, validator: validator, logger: logger, metrics: metrics}
}

// Handle is the fiber middleware.
func (g *Gate) Handle(c *fiber.Ctx) error {
	setHardeningHeaders(c)

	p := canonicalPath(c.Path())

	if g.blocked(p) {
		g.metrics.RecordGateDecision(decisionBlocked, "")
		return c.Status(fiber.StatusNotFound).SendString("page not found")
	}

	if g.internalEndpoint(p) && !g.sameOrigin(c) {
		return g.deny(c, p, reject(ReasonSameOriginRejected))
	}

	rule, protected := g.opts.Policy.Match(p)
	if !protected {
		g.metrics.RecordGateDecision(decisionAllow, "public")
		return c.Next()
	}

	principal, err := g.validator.Validate(c.UserContext(), TokenFromRequest(c, g.opts.CookieName))
	if err != nil {
		rej, ok := AsRejection(err)
		if !ok {
			return err
		}
		return g.deny(c, p, rej)
	}
	if !rule.Allows(principal.Role) {
		return g.deny(c, p, reject(ReasonRoleNotAllowed))
	}

	g.metrics.RecordGateDecision(decisionAllow, "authorized")
	c.Locals(principalKey, principal)
	return c.Next()
}

// deny redirects to the landing page. Unauthenticated and forbidden requests share
// the same target.
func (g *Gate) deny(c *fiber.Ctx, p string, rej *Rejection) error {
	g.metrics.RecordGateDecision(decisionRedirect, string(rej.Reason))
	g.logger.Info("gate denied request",
		zap.String("path", p),
		zap.String("reason", string(rej.Reason)),
		zap.String("referer", c.Get(fiber.HeaderReferer)))
	return c.Redirect(g.opts.LandingPath, fiber.StatusFound)
}

func (g *Gate) blocked(p string) bool {
	if !hasAnyPrefix(p, g.opts.BlockedPrefixes) {
		return false
	}
	exact := strings.TrimSuffix(p, "/")
	for _, exempt := range g.opts.BlockedExemptions {
		if exact == strings.ToLower(exempt) {
			return false
		}
	}
	return true
}

func (g *Gate) internalEndpoint(p string) bool {
	if g.opts.InternalAPIPrefix == "" || !strings.HasPrefix(p+"/", g.opts.InternalAPIPrefix) {
		return false
	}
	return !hasAnyPrefix(p, g.opts.PublicAPIPrefixes)
}

func (g *Gate) sameOrigin(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get(fiber.HeaderXRequestedWith), "XMLHttpRequest") {
		return true
	}
	self, _ := originOf(c.BaseURL())
	for _, header := range []string{fiber.HeaderOrigin, fiber.HeaderReferer} {
		origin, ok := originOf(c.Get(header))
		if !ok {
			continue
		}
		if origin == self {
			return true
		}
		if _, trusted := g.trusted[origin]; trusted {
			return true
		}
	}
	return false
}

func setHardeningHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderXFrameOptions, "DENY")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderReferrerPolicy, "strict-origin-when-cross-origin")
	c.Set(fiber.HeaderXXSSProtection, "1; mode=block")
}

// originOf reduces a URL to lowercase scheme://host.
func originOf(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// canonicalPath mirrors fiber's case-insensitive routing so "/Admin" and "//admin"
// cannot slip past a "/admin" rule.
func canonicalPath(p string) string {
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return strings.ToLower(cleaned)
}

func hasAnyPrefix(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(p, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
