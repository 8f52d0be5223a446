package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/glassboard/glassboard/console-engine/pkg/middleware"
)

// WorkspaceExtractor resolves which workspace a request operates in.
// It checks the X-Workspace header, then the workspace query parameter,
// and falls back to "default". Handlers read the result with
// pkg/middleware.GetWorkspace.
//
// An API key bound to a workspace overrides this later in the chain.
func WorkspaceExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspace := ""

		if h := r.Header.Get("X-Workspace"); h != "" {
			workspace = strings.TrimSpace(h)
		}

		if workspace == "" {
			if q := r.URL.Query().Get("workspace"); q != "" {
				workspace = strings.TrimSpace(q)
			}
		}

		if workspace == "" {
			workspace = "default"
		}

		ctx := pkgmw.SetWorkspace(r.Context(), workspace)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
