// Package api provides OpenAPI/Swagger documentation for the QuantumForge API.
//
// This package contains the OpenAPI 3.0 specification and related documentation
// for the QuantumForge HTTP API.
//
// # API Overview
//
// QuantumForge provides a RESTful API for:
//   - Orchestrated execution (POST /v1/execute) with speculative
//     multi-branch fan-out and collapse
//   - Single-provider chat completion passthrough
//   - Configuration inspection and hot reload
//   - Health monitoring and metrics
//
// # Authentication
//
// Most API endpoints require authentication via the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # OpenAPI Specification
//
// The OpenAPI 3.0 specification is generated with swag:
//   - /swagger/doc.json (when swag is used)
//
// # Generating Documentation
//
// To regenerate Swagger documentation using swag:
//
//	make docs-swagger
//
// Or manually:
//
//	swag init -g cmd/quantumforge/main.go -o api --parseDependency --parseInternal
//
// # Viewing Documentation
//
// To view the API documentation in Swagger UI:
//
//	make docs-serve
//
// This will start a Swagger UI server at http://localhost:8081
package api
