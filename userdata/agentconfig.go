package userdata

import (
	"encoding/json"
	"fmt"

	"github.com/yairfalse/perusta/config"
)

// AgentConfig is the CloudWatch agent configuration file schema, limited
// to the log-file collection section the agent reads.
type AgentConfig struct {
	Logs LogsSection `json:"logs"`
}

// LogsSection holds the collected log files.
type LogsSection struct {
	LogsCollected LogsCollected `json:"logs_collected"`
}

// LogsCollected wraps the file collectors.
type LogsCollected struct {
	Files FileCollectors `json:"files"`
}

// FileCollectors lists the tailed files.
type FileCollectors struct {
	CollectList []CollectEntry `json:"collect_list"`
}

// CollectEntry maps one local file to a log group and stream.
type CollectEntry struct {
	FilePath        string `json:"file_path"`
	LogGroupName    string `json:"log_group_name"`
	LogStreamName   string `json:"log_stream_name"`
	TimestampFormat string `json:"timestamp_format,omitempty"`
}

// BuildAgentConfig maps the stack's logging section onto the agent schema.
func BuildAgentConfig(stack *config.Stack) AgentConfig {
	entries := make([]CollectEntry, 0, len(stack.Logging.Streams))
	for _, s := range stack.Logging.Streams {
		entries = append(entries, CollectEntry{
			FilePath:        s.FilePath,
			LogGroupName:    stack.Logging.Group,
			LogStreamName:   s.StreamName,
			TimestampFormat: s.TimestampFormat,
		})
	}

	return AgentConfig{
		Logs: LogsSection{
			LogsCollected: LogsCollected{
				Files: FileCollectors{CollectList: entries},
			},
		},
	}
}

// RenderAgentConfig renders the agent configuration as indented JSON.
func RenderAgentConfig(stack *config.Stack) (string, error) {
	cfg := BuildAgentConfig(stack)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent config: %w", err)
	}

	return string(data), nil
}
