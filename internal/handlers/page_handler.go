package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
)

//go:embed pages/*.html
var pageFS embed.FS

type PageHandler struct {
	logger      arbor.ILogger
	templates   *template.Template
	listingURL  string
	clientDebug bool
}

func NewPageHandler(logger arbor.ILogger, listingURL string, clientDebug bool) *PageHandler {
	templates := template.Must(template.ParseFS(pageFS, "pages/*.html"))

	return &PageHandler{
		logger:      logger,
		templates:   templates,
		listingURL:  listingURL,
		clientDebug: clientDebug,
	}
}

// ServePage creates a handler function for serving a specific page template
func (h *PageHandler) ServePage(templateName string, pageName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := map[string]interface{}{
			"Page":        pageName,
			"Version":     common.GetVersion(),
			"ListingURL":  h.listingURL,
			"ClientDebug": h.clientDebug,
		}

		// Buffer so a template error does not leave a half-written page
		var buf bytes.Buffer
		if err := h.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
			h.logger.Error().
				Err(err).
				Str("template", templateName).
				Msg("Failed to render page")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		buf.WriteTo(w)
	}
}
