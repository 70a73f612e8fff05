// Package docs provides generated OpenAPI documentation.
//
// Enrich API
//
//	@title			Enrich API
//	@version		1.0
//	@description	Batch enrichment API for starting jobs, tracking progress and fetching results.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/enrich
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/enrich/serve.go -o ./swagger --parseDependency --parseInternal
