package endpoints

import (
	"github.com/jackzampolin/enrich/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&StartJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&StopJobEndpoint{},
		&JobResultsEndpoint{},

		// Metrics endpoints
		&MetricsEndpoint{},

		// Prompt endpoints
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
	}
}
