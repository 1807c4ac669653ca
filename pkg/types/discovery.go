package types

// =============================================================================
// Discovery Types (Bazaar extension)
// =============================================================================

// DiscoveryMetadata contains metadata for the discovery catalog.
// This information helps users discover and understand available paid endpoints.
type DiscoveryMetadata struct {
	// Name is the display name for the resource
	Name string `json:"name,omitempty"`
	// Description provides details about what the resource does
	Description string `json:"description,omitempty"`
	// Category groups resources (e.g., "data", "automation", "ai")
	Category string `json:"category,omitempty"`
	// Tags for searchable keywords
	Tags []string `json:"tags,omitempty"`
	// Documentation URL for additional documentation
	Documentation string `json:"documentation,omitempty"`
	// Provider is the name of the entity providing this resource
	Provider string `json:"provider,omitempty"`
}

// DiscoveryResource represents a discovered resource from the facilitator.
// Returned by GET /discovery/resources
type DiscoveryResource struct {
	// Resource is the URL of the payment-protected endpoint
	Resource string `json:"resource"`
	// Type is the resource type (currently only "http")
	Type string `json:"type"`
	// X402Version is the protocol version
	X402Version int `json:"x402Version"`
	// Accepts contains the payment requirements for this resource
	Accepts []PaymentRequirements `json:"accepts"`
	// LastUpdated is the RFC3339 time this resource was last registered
	LastUpdated string `json:"lastUpdated"`
	// Metadata contains optional discovery metadata
	Metadata *DiscoveryMetadata `json:"metadata,omitempty"`
}

// DiscoveryListResponse represents the response from discovery list endpoint.
// GET /discovery/resources
type DiscoveryListResponse struct {
	X402Version int                 `json:"x402Version"`
	Items       []DiscoveryResource `json:"items"`
	Pagination  DiscoveryPagination `json:"pagination"`
}

// DiscoveryPagination contains pagination info for discovery list.
type DiscoveryPagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// DiscoveryRegisterRequest represents the request to register a resource.
// POST /discovery/resources
type DiscoveryRegisterRequest struct {
	Resource string                `json:"resource"`
	Type     string                `json:"type"`
	Accepts  []PaymentRequirements `json:"accepts"`
	Metadata *DiscoveryMetadata    `json:"metadata,omitempty"`
}

// DiscoveryUnregisterRequest represents the request to remove a resource.
// DELETE /discovery/resources
type DiscoveryUnregisterRequest struct {
	Resource string `json:"resource"`
}

// ListResourcesOptions contains options for listing discovery resources.
type ListResourcesOptions struct {
	// Type filters by resource type (e.g., "http")
	Type string
	// Limit is the maximum number of items to return
	Limit int
	// Offset is the number of items to skip
	Offset int
}
