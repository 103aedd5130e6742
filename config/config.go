package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stack is the declarative definition of one web VM stack.
type Stack struct {
	Version  string            `yaml:"version"`
	Name     string            `yaml:"name"`
	Region   string            `yaml:"region"`
	Instance Instance          `yaml:"instance"`
	Logging  Logging           `yaml:"logging"`
	Web      Web               `yaml:"web"`
	Network  Network           `yaml:"network"`
	DNS      *DNS              `yaml:"dns,omitempty"`
	Tags     map[string]string `yaml:"tags,omitempty"`
}

// Instance describes the single VM.
type Instance struct {
	Type      string     `yaml:"type"`
	AMI       string     `yaml:"ami,omitempty"`
	AMILookup *AMILookup `yaml:"ami_lookup,omitempty"`
	KeyName   string     `yaml:"key_name,omitempty"`
	VolumeGB  int32      `yaml:"volume_gb,omitempty"`
}

// AMILookup resolves an AMI by name pattern instead of a literal ID.
type AMILookup struct {
	NamePattern string `yaml:"name_pattern"`
	Owner       string `yaml:"owner"`
}

// Logging wires local files on the VM to CloudWatch Logs.
type Logging struct {
	Group         string       `yaml:"group"`
	RetentionDays int32        `yaml:"retention_days"`
	Streams       []StreamSpec `yaml:"streams"`
}

// StreamSpec maps one file path on the VM to a log stream.
type StreamSpec struct {
	FilePath        string `yaml:"file_path"`
	StreamName      string `yaml:"stream_name"`
	TimestampFormat string `yaml:"timestamp_format,omitempty"`
}

// Web describes where the static site template comes from and lands.
type Web struct {
	TemplateURL string `yaml:"template_url,omitempty"`
	TemplateS3  *S3Ref `yaml:"template_s3,omitempty"`
	DocRoot     string `yaml:"doc_root"`
}

// S3Ref points at an artifact in a bucket. When LocalPath is set,
// apply uploads the file there before the instance boots.
type S3Ref struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	LocalPath string `yaml:"local_path,omitempty"`
}

// Network holds the single ingress surface of the stack.
type Network struct {
	SSHCIDR  string `yaml:"ssh_cidr"`
	HTTPPort int32  `yaml:"http_port"`
}

// DNS optionally points a record at the instance public IP.
type DNS struct {
	ZoneID     string `yaml:"zone_id"`
	RecordName string `yaml:"record_name"`
	TTL        int64  `yaml:"ttl,omitempty"`
}

// Load reads and validates a stack definition from file.
func Load(path string) (*Stack, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}

	var s Stack
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse stack file: %w", err)
	}

	s.applyDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stack: %w", err)
	}

	return &s, nil
}

func (s *Stack) applyDefaults() {
	if s.Network.HTTPPort == 0 {
		s.Network.HTTPPort = 80
	}
	if s.Web.DocRoot == "" {
		s.Web.DocRoot = "/usr/share/nginx/html"
	}
	if s.Logging.RetentionDays == 0 {
		s.Logging.RetentionDays = 7
	}
	if s.DNS != nil && s.DNS.TTL == 0 {
		s.DNS.TTL = 60
	}
	for i := range s.Logging.Streams {
		if s.Logging.Streams[i].StreamName == "" {
			parts := strings.Split(s.Logging.Streams[i].FilePath, "/")
			s.Logging.Streams[i].StreamName = parts[len(parts)-1]
		}
	}
}

// Validate ensures the stack has required fields.
func (s *Stack) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("version is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Region == "" {
		return fmt.Errorf("region is required")
	}
	if s.Instance.Type == "" {
		return fmt.Errorf("instance.type is required")
	}
	if s.Instance.AMI == "" && s.Instance.AMILookup == nil {
		return fmt.Errorf("instance.ami or instance.ami_lookup is required")
	}
	if s.Instance.AMI != "" && s.Instance.AMILookup != nil {
		return fmt.Errorf("instance.ami and instance.ami_lookup are mutually exclusive")
	}
	if s.Logging.Group == "" {
		return fmt.Errorf("logging.group is required")
	}
	if len(s.Logging.Streams) == 0 {
		return fmt.Errorf("logging.streams must list at least one file")
	}
	for _, st := range s.Logging.Streams {
		if st.FilePath == "" {
			return fmt.Errorf("logging.streams entries require file_path")
		}
	}
	if s.Web.TemplateURL == "" && s.Web.TemplateS3 == nil {
		return fmt.Errorf("web.template_url or web.template_s3 is required")
	}
	if s.Web.TemplateURL != "" && s.Web.TemplateS3 != nil {
		return fmt.Errorf("web.template_url and web.template_s3 are mutually exclusive")
	}
	if s.Network.SSHCIDR == "" {
		return fmt.Errorf("network.ssh_cidr is required")
	}
	if s.DNS != nil {
		if s.DNS.ZoneID == "" || s.DNS.RecordName == "" {
			return fmt.Errorf("dns requires zone_id and record_name")
		}
	}
	return nil
}

// ResourceName derives the name for a stack component, e.g. "webstack-role".
func (s *Stack) ResourceName(suffix string) string {
	return s.Name + "-" + suffix
}

// HasArtifactUpload reports whether apply must push a local file to S3.
func (s *Stack) HasArtifactUpload() bool {
	return s.Web.TemplateS3 != nil && s.Web.TemplateS3.LocalPath != ""
}
