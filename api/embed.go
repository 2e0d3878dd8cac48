package api

import _ "embed"

// OpenAPISpec is the OpenAPI document of the admin API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
