// Package spec embeds and serves the OpenAPI document for the payout API.
package spec

import (
	"embed"
	"net/http"
)

//go:embed openapi.yaml
var specFS embed.FS

// OpenAPIHandler serves the embedded OpenAPI document.
func OpenAPIHandler() http.HandlerFunc {
	doc, err := specFS.ReadFile("openapi.yaml")
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "openapi document not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	}
}
