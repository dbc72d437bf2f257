// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rbac

// Role names a fixed set of permissions. Roles are carried inside access
// tokens and API key entries by their string value.
type Role string

const (
	// RoleAdmin holds every permission. This is enforced by NewModel.
	RoleAdmin Role = "admin"

	// RoleOperator runs day to day operations: acknowledging incidents,
	// triggering cycles and executing remediation.
	RoleOperator Role = "operator"

	// RoleViewer is read-only and is the fallback primary role.
	RoleViewer Role = "viewer"

	// RoleAPIClient is the default role of machine callers authenticating
	// with an API key.
	RoleAPIClient Role = "api_client"

	// RoleAnalyst reads incidents, configuration and the audit log.
	RoleAnalyst Role = "analyst"
)

// Permission is a single capability checked at the access boundary.
type Permission string

// Incident permissions
const (
	PermViewIncidents        Permission = "view_incidents"
	PermCreateIncidents      Permission = "create_incidents"
	PermAcknowledgeIncidents Permission = "acknowledge_incidents"
	PermCloseIncidents       Permission = "close_incidents"
)

// Monitoring permissions
const (
	PermTriggerCycles    Permission = "trigger_cycles"
	PermViewMetrics      Permission = "view_metrics"
	PermViewSystemStatus Permission = "view_system_status"
)

// Configuration permissions
const (
	PermModifyConfig      Permission = "modify_config"
	PermViewConfig        Permission = "view_config"
	PermManageRules       Permission = "manage_rules"
	PermManageDatasources Permission = "manage_datasources"
)

// Security permissions
const (
	PermManageUsers   Permission = "manage_users"
	PermManageRoles   Permission = "manage_roles"
	PermViewAuditLog  Permission = "view_audit_log"
	PermManageSecrets Permission = "manage_secrets"
)

// Remediation permissions
const (
	PermExecuteRemediation Permission = "execute_remediation"
	PermApproveRemediation Permission = "approve_remediation"
)

// API permissions
const (
	PermAPIAccess     Permission = "api_access"
	PermWebhookAccess Permission = "webhook_access"
)

// System administration permissions
const (
	PermManageTenants  Permission = "manage_tenants"
	PermSystemShutdown Permission = "system_shutdown"
	PermViewLogs       Permission = "view_logs"
)

// Wildcard in a grant list expands to every permission.
const Wildcard = "*"

// allRoles lists roles in their canonical order.
var allRoles = []Role{RoleAdmin, RoleOperator, RoleViewer, RoleAPIClient, RoleAnalyst}

// allPermissions lists the permission universe in its canonical order.
var allPermissions = []Permission{
	PermViewIncidents, PermCreateIncidents, PermAcknowledgeIncidents, PermCloseIncidents,
	PermTriggerCycles, PermViewMetrics, PermViewSystemStatus,
	PermModifyConfig, PermViewConfig, PermManageRules, PermManageDatasources,
	PermManageUsers, PermManageRoles, PermViewAuditLog, PermManageSecrets,
	PermExecuteRemediation, PermApproveRemediation,
	PermAPIAccess, PermWebhookAccess,
	PermManageTenants, PermSystemShutdown, PermViewLogs,
}

// -----------------------------------------------------------------------------
// Default Role Grants
// Admin is not listed: it always receives the full universe.
// -----------------------------------------------------------------------------

// OperatorPermissions are the default grants of the operator role.
var OperatorPermissions = []Permission{
	PermViewIncidents,
	PermAcknowledgeIncidents,
	PermTriggerCycles,
	PermViewMetrics,
	PermViewSystemStatus,
	PermViewConfig,
	PermExecuteRemediation,
	PermAPIAccess,
	PermViewLogs,
}

// ViewerPermissions are the default grants of the viewer role.
var ViewerPermissions = []Permission{
	PermViewIncidents,
	PermViewMetrics,
	PermViewSystemStatus,
	PermViewConfig,
	PermViewLogs,
}

// APIClientPermissions are the default grants of the api_client role.
var APIClientPermissions = []Permission{
	PermViewIncidents,
	PermCreateIncidents,
	PermTriggerCycles,
	PermViewMetrics,
	PermViewSystemStatus,
	PermAPIAccess,
	PermWebhookAccess,
}

// AnalystPermissions are the default grants of the analyst role.
var AnalystPermissions = []Permission{
	PermViewIncidents,
	PermAcknowledgeIncidents,
	PermViewMetrics,
	PermViewSystemStatus,
	PermViewConfig,
	PermViewAuditLog,
	PermViewLogs,
}
