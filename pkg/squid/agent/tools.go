// Package agent – tools.go defines the closed set of built-in tool kinds.
// Each kind carries its own argument schema and handler; the policy engine
// and the executor both switch on the kind rather than reflecting over an
// open-ended registry.
package agent

import "encoding/json"

// ToolKind identifies one of the built-in tools.
type ToolKind int

const (
	ToolReadFile ToolKind = iota
	ToolWriteFile
	ToolEditFile
	ToolListFiles
	ToolSearchFiles
	ToolBash
)

// toolNames maps kinds to wire names in declaration order.
var toolNames = [...]string{
	ToolReadFile:    "read_file",
	ToolWriteFile:   "write_file",
	ToolEditFile:    "edit_file",
	ToolListFiles:   "list_files",
	ToolSearchFiles: "search_files",
	ToolBash:        "bash",
}

// String returns the wire name of the tool.
func (k ToolKind) String() string {
	if int(k) < len(toolNames) {
		return toolNames[k]
	}
	return "unknown"
}

// IsShell reports whether the tool executes shell commands.
func (k ToolKind) IsShell() bool { return k == ToolBash }

// IsFilesystem reports whether the tool targets a filesystem path.
func (k ToolKind) IsFilesystem() bool {
	switch k {
	case ToolReadFile, ToolWriteFile, ToolEditFile, ToolListFiles, ToolSearchFiles:
		return true
	}
	return false
}

// KindForName resolves a wire name to its kind.
func KindForName(name string) (ToolKind, bool) {
	for k, n := range toolNames {
		if n == name {
			return ToolKind(k), true
		}
	}
	return 0, false
}

// ToolDefinition is the function-calling declaration sent to the provider.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolDefinitions returns the declarations for every built-in tool.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace and return its contents.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file in the workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"content": {"type": "string", "description": "Full file contents to write"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        "edit_file",
			Description: "Replace an exact text fragment in a workspace file.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"old_text": {"type": "string", "description": "Exact text to replace (must occur exactly once)"},
					"new_text": {"type": "string", "description": "Replacement text"}
				},
				"required": ["path", "old_text", "new_text"]
			}`),
		},
		{
			Name:        "list_files",
			Description: "List directory entries in the workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path, relative to the workspace root (default: .)"}
				}
			}`),
		},
		{
			Name:        "search_files",
			Description: "Search workspace files for a substring and return matching lines.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Substring to search for"},
					"path": {"type": "string", "description": "Directory to search under (default: .)"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "bash",
			Description: "Run a shell command in the workspace and return its output.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command to run"}
				},
				"required": ["command"]
			}`),
		},
	}
}

// DescribeInvocation builds a short human-readable description of a tool
// call for approval prompts and progress output.
func DescribeInvocation(toolName string, args map[string]any) string {
	switch toolName {
	case "bash":
		if cmd, ok := args["command"].(string); ok && cmd != "" {
			if len(cmd) > 80 {
				return "run: " + cmd[:80] + "..."
			}
			return "run: " + cmd
		}
		return "run a shell command"

	case "read_file":
		if path, ok := args["path"].(string); ok && path != "" {
			return "read " + path
		}
		return "read a file"

	case "write_file":
		if path, ok := args["path"].(string); ok && path != "" {
			return "write to " + path
		}
		return "write a file"

	case "edit_file":
		if path, ok := args["path"].(string); ok && path != "" {
			return "edit " + path
		}
		return "edit a file"

	case "list_files":
		if path, ok := args["path"].(string); ok && path != "" {
			return "list " + path
		}
		return "list files"

	case "search_files":
		if q, ok := args["query"].(string); ok && q != "" {
			return "search for: " + q
		}
		return "search files"

	default:
		return toolName
	}
}
