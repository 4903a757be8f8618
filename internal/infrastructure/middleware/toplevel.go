package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// TopLevelCookieName marks that the browser has been asked to escape the
// embedded iframe with a top-level navigation. Its presence on the auth route
// means the escape already happened and OAuth can begin inline.
const TopLevelCookieName = "shopifyTopLevelOAuth"

var chromeFamilyPattern = regexp.MustCompile(`(?i)chrome|crios`)

// setTopLevelCookie sets or clears (empty value) the top-level marker.
// Chrome-family browsers drop third-party iframe cookies unless they are
// Secure and SameSite=None, so the attributes are set per user agent.
func setTopLevelCookie(w http.ResponseWriter, r *http.Request, value string) {
	cookie := &http.Cookie{
		Name:  TopLevelCookieName,
		Value: value,
		Path:  "/",
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	if chromeFamilyPattern.MatchString(r.UserAgent()) {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

func hasTopLevelCookie(r *http.Request) bool {
	cookie, err := r.Cookie(TopLevelCookieName)
	return err == nil && cookie.Value != ""
}

// authPathError signals a misconfigured auth route at constructor time.
func validateAuthPath(path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("invalid auth path %q: must be a relative path without a trailing slash (eg. \"/auth\")", path)
	}
	return nil
}

// topLevelRedirectScript is the bridge served when the authorization page
// must be reached through a top-level navigation. At the browser it either
// rewrites the top window's location directly, or dispatches an App Bridge
// remote redirect to escape the iframe. Served verbatim apart from the
// substituted shop origin, redirect URL, and API key.
func topLevelRedirectScript(origin, redirectTo, apiKey string) string {
	return fmt.Sprintf(`
    <script src="https://unpkg.com/@shopify/app-bridge@^1"></script> <script type="text/javascript">
      document.addEventListener('DOMContentLoaded', function() {
        if (window.top === window.self) {
          window.location.href = %[2]q;
        } else {
          var AppBridge = window['app-bridge'];
          var createApp = AppBridge.default;
          var Redirect = AppBridge.actions.Redirect;
          var app = createApp({
            apiKey: %[3]q,
            shopOrigin: %[1]q,
          });
          var redirect = Redirect.create(app);
          redirect.dispatch(Redirect.Action.REMOTE, %[2]q);
        }
      });
    </script>
  `, origin, redirectTo, apiKey)
}
