package handlers

import (
	_ "embed"
	"net/http"
)

// OpenAPI document embedded at compile time
//
//go:embed openapi.yaml
var openAPISpec []byte

// ServeOpenAPISpec serves the raw OpenAPI YAML specification
// @Summary Get OpenAPI specification
// @Description Returns the OpenAPI 3.0 specification for the bridge API
// @Tags Documentation
// @Produce text/yaml
// @Success 200 {string} string "OpenAPI YAML specification"
// @Router /docs/openapi.yaml [get]
func (h *BridgeHandler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(openAPISpec)
}

// ServeSwaggerUI serves the Swagger UI documentation page
// @Summary Swagger UI documentation
// @Description Interactive API documentation using Swagger UI
// @Tags Documentation
// @Produce text/html
// @Success 200 {string} string "Swagger UI HTML page"
// @Router /docs [get]
func (h *BridgeHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(swaggerUIHTML))
}

// swaggerUIHTML renders /docs/openapi.yaml with the Swagger UI bundle.
const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Meshtastic Bridge API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>body { margin: 0; } .topbar { display: none; }</style>
</head>
<body>
  <div id="api-docs"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => {
      window.ui = SwaggerUIBundle({
        url: "/docs/openapi.yaml",
        dom_id: "#api-docs",
        deepLinking: true,
        docExpansion: "list",
        filter: true,
        tryItOutEnabled: true,
      });
    };
  </script>
</body>
</html>`
