// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package utils

// Header names shared between the webhook router and switch-side
// integrations.
const (
	HEADER_API_KEY         = "x-api-key"
	HEADER_AUTH_KEY        = "authorization"
	HEADER_SOURCE_KEY      = "x-source"
	HEADER_ENVIRONMENT_KEY = "x-environment"
	HEADER_REGION_KEY      = "x-region"
	HEADER_CALL_ID_KEY     = "x-call-id"
)
