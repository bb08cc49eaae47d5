// Copyright 2025 The Conduit Authors
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

package mcp

// Client-to-server methods. Matching is exact and case-sensitive.
const (
	INITIALIZE               = "initialize"
	PING                     = "ping"
	TOOLS_LIST               = "tools/list"
	TOOLS_CALL               = "tools/call"
	RESOURCES_LIST           = "resources/list"
	RESOURCES_READ           = "resources/read"
	RESOURCES_TEMPLATES_LIST = "resources/templates/list"
	PROMPTS_LIST             = "prompts/list"
	PROMPTS_GET              = "prompts/get"
	COMPLETION_COMPLETE      = "completion/complete"
	LOGGING_SET_LEVEL        = "logging/setLevel"
	TASKS_GET                = "tasks/get"
	TASKS_CANCEL             = "tasks/cancel"
)

// Notification methods. Anything under "notifications/" never gets a response.
const (
	NOTIFICATION_PREFIX                 = "notifications/"
	NOTIFICATION_INITIALIZED            = "notifications/initialized"
	NOTIFICATION_CANCELLED              = "notifications/cancelled"
	NOTIFICATION_PROGRESS               = "notifications/progress"
	NOTIFICATION_MESSAGE                = "notifications/message"
	NOTIFICATION_TOOLS_LIST_CHANGED     = "notifications/tools/list_changed"
	NOTIFICATION_RESOURCES_LIST_CHANGED = "notifications/resources/list_changed"
	NOTIFICATION_PROMPTS_LIST_CHANGED   = "notifications/prompts/list_changed"
	NOTIFICATION_ROOTS_LIST_CHANGED     = "notifications/roots/list_changed"
	NOTIFICATION_TASKS_CREATED          = "notifications/tasks/created"
	NOTIFICATION_TASKS_STATUS           = "notifications/tasks/status"
)

// Server-initiated request methods.
const (
	SAMPLING_CREATE_MESSAGE = "sampling/createMessage"
	ELICITATION_CREATE      = "elicitation/create"
	ROOTS_LIST              = "roots/list"
)

// Reserved _meta keys.
const (
	META_TASK           = "modelcontextprotocol.io/task"
	META_RELATED_TASK   = "modelcontextprotocol.io/related-task"
	META_SESSION_ID     = "session_id"
	META_PROGRESS_TOKEN = "progressToken"
)
